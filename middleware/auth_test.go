package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredential(t *testing.T) {
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString(Credential(c)) })

	cases := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"bearer", "Authorization", "Bearer amk_1", "amk_1"},
		{"api key header", "X-API-Key", "amk_2", "amk_2"},
		{"basic auth ignored", "Authorization", "Basic abc", ""},
		{"none", "", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := app.Test(req)
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			assert.Equal(t, tc.want, string(body))
		})
	}
}

func TestServiceTokenAuth(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	app := fiber.New()
	app.Get("/internal", ServiceTokenAuth("s3cret", log), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for header, want := range map[string]int{
		"":              http.StatusUnauthorized,
		"wrong":         http.StatusUnauthorized,
		"s3cret":        http.StatusNoContent,
		"Bearer s3cret": http.StatusNoContent,
	} {
		req := httptest.NewRequest(http.MethodGet, "/internal", nil)
		switch {
		case header == "":
		case len(header) > 7 && header[:7] == "Bearer ":
			req.Header.Set("Authorization", header)
		default:
			req.Header.Set("X-Service-Token", header)
		}
		resp, err := app.Test(req)
		require.NoError(t, err)
		assert.Equal(t, want, resp.StatusCode, header)
	}
}
