package config_test

import (
	"fmt"

	"github.com/ajitpratap0/daktela-extractor/pkg/config"
)

// ExampleNew demonstrates the defaults applied before a file is loaded.
func ExampleNew() {
	cfg := config.New()

	fmt.Printf("Batch Size: %d\n", cfg.Advanced.BatchSize)
	fmt.Printf("Max Concurrent Requests: %d\n", cfg.Advanced.MaxConcurrentRequests)
	fmt.Printf("Max Concurrent Endpoints: %d\n", cfg.Advanced.MaxConcurrentEndpoints)
	fmt.Printf("State Backend: %s\n", cfg.State.Backend)

	// Output:
	// Batch Size: 1000
	// Max Concurrent Requests: 10
	// Max Concurrent Endpoints: 3
	// State Backend: file
}

// ExampleConfig_Validate shows the error returned for an out-of-range limit.
func ExampleConfig_Validate() {
	cfg := config.New()
	cfg.Connection.URL = "https://acme.daktela.com"
	cfg.Connection.Username = "api"
	cfg.Connection.Password = "secret"
	cfg.DataSelection.Endpoints = []string{"tickets"}
	cfg.Advanced.MaxConcurrentEndpoints = 25

	fmt.Println(cfg.Validate())

	// Output:
	// config: advanced.max_concurrent_endpoints must be between 1 and 20, got 25
}
