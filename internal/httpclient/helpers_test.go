package httpclient

import (
	"io"
	"log/slog"

	"github.com/go-resty/resty/v2"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRestyFor(baseURL string) *resty.Client {
	return resty.New().SetBaseURL(baseURL)
}
