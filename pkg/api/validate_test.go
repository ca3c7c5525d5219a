package api_test

import (
	"encoding/json"
	"net/http"
	"net/url"
	"testing"

	"github.com/oose/oose-sdk-go/pkg/api"
	"github.com/stretchr/testify/require"
)

func response(t *testing.T, status int) *http.Response {
	t.Helper()
	u, err := url.Parse("https://127.0.0.1:5978/invalid-code/valid")
	require.NoError(t, err)
	return &http.Response{
		StatusCode: status,
		Request:    &http.Request{Method: http.MethodPost, URL: u},
	}
}

func TestValidate_success(t *testing.T) {
	body := []byte(`{"success":"valid"}`)
	got, err := api.Validate(response(t, http.StatusOK), body)
	require.NoError(t, err)
	require.Equal(t, body, got)
}

func TestValidate_embeddedErrorOn200(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusOK), []byte(`{"error":"bad input"}`))
	require.True(t, api.IsUser(err))
	require.Equal(t, "bad input", err.Error())
}

func TestValidate_embeddedErrorMessage(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusOK), []byte(`{"error":{"message":"No user found"}}`))
	require.True(t, api.IsUser(err))
	require.Equal(t, "No user found", err.Error())
}

func TestValidate_errorCheckedBeforeStatus(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusUnauthorized), []byte(`{"error":"invalid"}`))
	require.True(t, api.IsUser(err))
	require.Equal(t, "invalid", err.Error())
}

func TestValidate_badStatus(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusUnauthorized), []byte(`{"success":"valid"}`))
	require.True(t, api.IsUser(err))
	require.Equal(t,
		`Invalid response code (401) to POST: https://127.0.0.1:5978/invalid-code/valid body: {"success":"valid"}`,
		err.Error())
}

func TestValidate_nonJSONBody(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusOK), []byte("Service Unavailable\n"))
	require.True(t, api.IsUser(err))
	require.Equal(t, "Service Unavailable", err.Error())
}

func TestValidate_emptyBody(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusOK), nil)
	require.NoError(t, err)

	_, err = api.Validate(response(t, http.StatusInternalServerError), nil)
	require.True(t, api.IsUser(err))
	require.Contains(t, err.Error(), "(500)")
}

func TestValidate_nullErrorIsSuccess(t *testing.T) {
	_, err := api.Validate(response(t, http.StatusOK), []byte(`{"error":null,"exists":true}`))
	require.NoError(t, err)
}

func TestValidate_malformedJSON(t *testing.T) {
	for _, body := range []string{`{"success":`, `{"error":"x"`, `[1,2`} {
		_, err := api.Validate(response(t, http.StatusOK), []byte(body))
		require.Error(t, err, body)
		require.False(t, api.IsUser(err), body)
		require.False(t, api.IsNetwork(err), body)
		require.Contains(t, err.Error(), "malformed response to POST: https://127.0.0.1:5978/invalid-code/valid")

		var syntaxErr *json.SyntaxError
		require.ErrorAs(t, err, &syntaxErr, body)
	}
}
