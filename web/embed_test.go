package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSPAHandlerServesIndexForRoomRoutes(t *testing.T) {
	h := SPAHandler()

	for _, path := range []string{"/", "/room/support-1?type=agent_a"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, w.Code)
		}
		if !strings.Contains(w.Body.String(), "Warm Transfer") {
			t.Errorf("%s: expected the call console page", path)
		}
	}
}
