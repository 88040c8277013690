package constants

import "os"

// EnableGasTracing records every gas charge on the call manager's trace.
var EnableGasTracing = os.Getenv("FVM_ENABLE_GAS_TRACING") == "1"
