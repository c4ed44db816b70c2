package tsar

import "github.com/asticode/go-astikit"

// Right now we use a package-level logger because it feels weird to inject a
// logger into pure parsing functions. The logger is only needed to let the
// caller know when a non-fatal, by-design anomaly occurred: a residual PES
// dropped at end of stream, or an unknown non-zero PAF metadata byte carried
// through unchanged.
var logger = astikit.AdaptStdLogger(nil)

// SetLogger swaps the package-level logger.
func SetLogger(l astikit.StdLogger) { logger = astikit.AdaptStdLogger(l) }
