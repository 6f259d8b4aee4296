package elastic

import (
	"fmt"
	"log/slog"
	"net/http"

	es "github.com/elastic/go-elasticsearch/v8"
)

// Connect builds a client for the search mirror. An empty url disables it.
func Connect(url string, transport http.RoundTripper, log *slog.Logger) (*es.Client, error) {
	if url == "" {
		return nil, nil
	}
	client, err := es.NewClient(es.Config{
		Addresses: []string{url},
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("connect elasticsearch: %w", err)
	}
	log.Info("connected to elasticsearch", "url", url)
	return client, nil
}
