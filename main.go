package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/hashicorp/terraform-plugin-framework/providerserver"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/isometry/terraform-provider-dirauth/internal/ldap"
	"github.com/isometry/terraform-provider-dirauth/internal/metrics"
	"github.com/isometry/terraform-provider-dirauth/internal/provider"
)

//go:generate go tool tfplugindocs generate -provider-name dirauth

var (
	// these will be set by the goreleaser configuration
	// to appropriate values for the compiled binary.
	version string = "dev"
)

func main() {
	var (
		debug       bool
		metricsAddr string
	)

	flag.BoolVar(&debug, "debug", false, "set to true to run the provider with support for debuggers like delve")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9464")
	flag.Parse()

	var opts []provider.Option
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, provider.WithAuthenticatorOptions(ldap.WithRecorder(metrics.New(reg))))

		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %s", err)
			}
		}()
	}

	err := providerserver.Serve(context.Background(), provider.New(version, opts...), providerserver.ServeOpts{
		Address: "registry.terraform.io/isometry/dirauth",
		Debug:   debug,
	})
	if err != nil {
		log.Fatal(err.Error())
	}
}
