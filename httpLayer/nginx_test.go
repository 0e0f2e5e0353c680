package httpLayer_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/e1732a364fed/vlessgate/httpLayer"
	"github.com/stretchr/testify/require"
)

func TestNginxResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	httpLayer.SetNginx404Response(rec)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "nginx/1.21.5", rec.Header().Get("Server"))
	require.Equal(t, httpLayer.Nginx404_html, rec.Body.String())
	require.NotEmpty(t, rec.Header().Get("Date"))

	rec = httptest.NewRecorder()
	httpLayer.SetNginx400Response(rec)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "close", rec.Header().Get("Connection"))
	require.Equal(t, httpLayer.Nginx400_html, rec.Body.String())

	rec = httptest.NewRecorder()
	httpLayer.SetNginxResponse(rec, http.StatusTeapot)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
