package builtin

import (
	"sync"

	"github.com/unidoc/unipdf/v3/common/license"
)

var licenseOnce sync.Once

// SetPDFLicense registers the unipdf metered license key. Without a key the
// library refuses to write output, so create_report fails on every call.
// The key registers process-wide; repeat calls after the first are no-ops.
func SetPDFLicense(key string) error {
	var err error
	licenseOnce.Do(func() {
		err = license.SetMeteredKey(key)
	})
	return err
}
