package api_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/stretchr/testify/require"
)

func failAt(msg string) error {
	return fmt.Errorf("post https://127.0.0.1:5971/user/login: %s", msg)
}

func TestClassify_transportErrors(t *testing.T) {
	for _, code := range api.TransportErrors {
		t.Run(code, func(t *testing.T) {
			orig := failAt(code)
			got := api.Classify(orig)

			require.True(t, api.IsNetwork(got), "expected network error for %q", code)
			require.Contains(t, got.Error(), code)
			require.ErrorIs(t, got, orig, "origin must stay reachable")

			var apiErr *api.Error
			require.ErrorAs(t, got, &apiErr)
			require.Equal(t, api.KindNetwork, apiErr.Kind)
			require.Same(t, orig, apiErr.Err)
		})
	}
}

func TestClassify_passThrough(t *testing.T) {
	orig := errors.New("foo")
	got := api.Classify(orig)
	require.Same(t, orig, got)
	require.False(t, api.IsNetwork(got))
}

func TestClassify_userErrorUnchanged(t *testing.T) {
	orig := api.UserError("Job cannot be started after being started")
	got := api.Classify(orig)
	require.Same(t, orig, got)
	require.True(t, api.IsUser(got))
}

func TestClassify_networkErrorUnchanged(t *testing.T) {
	orig := api.NetworkError(errors.New("read tcp: connection reset by peer"))
	got := api.Classify(orig)
	require.Same(t, orig, got)

	wrapped := fmt.Errorf("renew session: %w", orig)
	require.Same(t, wrapped, api.Classify(wrapped))
}

func TestClassify_nil(t *testing.T) {
	require.NoError(t, api.Classify(nil))
}

func TestKindHelpers(t *testing.T) {
	nf := api.NotFoundError("job not found", nil)
	require.True(t, api.IsNotFound(nf))
	require.False(t, api.IsUser(nf))
	require.False(t, api.IsNetwork(errors.New("plain")))

	ue := api.UserErrorf("Job cannot be retried with a status of %s", "staged")
	require.Equal(t, "Job cannot be retried with a status of staged", ue.Error())
}
