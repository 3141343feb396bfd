package location

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/richxcame/driver-location/pkg/common"
)

// requireAppErrorCode asserts err carries the given machine-readable code.
func requireAppErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var appErr *common.AppError
	require.True(t, errors.As(err, &appErr), "expected *common.AppError, got %T: %v", err, err)
	require.Equal(t, code, appErr.ErrorCode)
}
