package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

type sample struct {
	Name  string `json:"name" binding:"required,notblank,max=10"`
	Items []item `json:"items" binding:"omitempty,dive"`
}

type item struct {
	Points int `json:"points" binding:"required,min=1"`
}

func bind(t *testing.T, body string) map[string]string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	Setup()

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")

	var dst sample
	return Bind(c, &dst)
}

func TestBind(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
		wantMsg   string
	}{
		{name: "valid", body: `{"name":"Ana","items":[{"points":2}]}`},
		{name: "missing", body: `{}`, wantField: "name", wantMsg: "required"},
		{name: "blank", body: `{"name":"   "}`, wantField: "name", wantMsg: "must not be blank"},
		{name: "too long", body: `{"name":"abcdefghijkl"}`, wantField: "name", wantMsg: "10 characters"},
		{name: "nested uses json names", body: `{"name":"Ana","items":[{"points":0}]}`, wantField: "items[0].points", wantMsg: "required"},
		{name: "syntax error", body: `{"name":`, wantField: "detail"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fields := bind(t, tc.body)
			if tc.wantField == "" {
				if fields != nil {
					t.Fatalf("unexpected errors: %v", fields)
				}
				return
			}
			msg, ok := fields[tc.wantField]
			if !ok {
				t.Fatalf("no error for %q in %v", tc.wantField, fields)
			}
			if !strings.Contains(msg, tc.wantMsg) {
				t.Fatalf("message %q does not mention %q", msg, tc.wantMsg)
			}
		})
	}
}
