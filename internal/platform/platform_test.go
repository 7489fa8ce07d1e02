package platform_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carlmjohnson/requests"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/platform"
	"github.com/tinywideclouds/go-push-service/pkg/push"
)

func statusErr(t *testing.T, code int) error {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(code)
	}))
	defer srv.Close()
	err := requests.URL(srv.URL).Fetch(context.Background())
	require.Error(t, err)
	return err
}

func TestClassify(t *testing.T) {
	t.Run("401 is auth failure", func(t *testing.T) {
		err := platform.Classify(push.GatewayHuawei, statusErr(t, http.StatusUnauthorized))
		assert.ErrorIs(t, err, push.ErrAuthFailure)
	})

	t.Run("400 is rejection", func(t *testing.T) {
		err := platform.Classify(push.GatewayHuawei, statusErr(t, http.StatusBadRequest))
		assert.ErrorIs(t, err, push.ErrGatewayRejected)
	})

	t.Run("transport error is network", func(t *testing.T) {
		err := platform.Classify(push.GatewayXiaomi, errors.New("connection refused"))
		assert.ErrorIs(t, err, push.ErrNetwork)
	})

	t.Run("deadline is timeout", func(t *testing.T) {
		err := platform.Classify(push.GatewayVivo, fmt.Errorf("post: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, push.ErrTimeout)
	})
}

func TestTally(t *testing.T) {
	t.Run("one success is enough", func(t *testing.T) {
		res := platform.Tally(push.GatewayVivo, []push.TokenResult{
			{Token: "a", Error: "boom"},
			{Token: "b", Success: true, MessageID: "m-b"},
		}, errors.New("boom"))

		assert.True(t, res.Success)
		assert.Equal(t, "m-b", res.MessageID)
		assert.Empty(t, res.Error)
	})

	t.Run("all failed keeps first cause", func(t *testing.T) {
		cause := fmt.Errorf("%w: nope", push.ErrNetwork)
		res := platform.Tally(push.GatewayAPNS, []push.TokenResult{{Token: "a"}, {Token: "b"}}, cause)

		assert.False(t, res.Success)
		assert.ErrorIs(t, res.Cause, push.ErrNetwork)
		assert.Equal(t, cause.Error(), res.Error)
	})
}
