package store

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"modernc.org/sqlite"
)

// suffixFunc is the SQLite scalar function backing Dialect.SuffixOrder.
const suffixFunc = "code_suffix"

var (
	registerOnce sync.Once
	registerErr  error
)

// registerSQLiteFunctions installs the Go scalar functions the SQLite
// dialect needs. Registration is process-wide and happens once.
func registerSQLiteFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlite.RegisterDeterministicScalarFunction(suffixFunc, 1, codeSuffix)
		if registerErr != nil {
			registerErr = fmt.Errorf("register %s: %w", suffixFunc, registerErr)
		}
	})
	return registerErr
}

func codeSuffix(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	var code string
	switch v := args[0].(type) {
	case string:
		code = v
	case []byte:
		code = string(v)
	default:
		return nil, nil
	}
	n, ok := codes.ParseSuffix(code)
	if !ok {
		return nil, nil
	}
	return n, nil
}
