/*
Copyright 2015 All rights reserved.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package server

import (
	"context"
	"errors"
	"io"
	httplog "log"
	"net"
	"net/http"
	"os"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	resty "github.com/go-resty/resty/v2"
	"github.com/gogatekeeper/identity-relay/pkg/apperrors"
	"github.com/gogatekeeper/identity-relay/pkg/config"
	"github.com/gogatekeeper/identity-relay/pkg/constant"
	"github.com/gogatekeeper/identity-relay/pkg/delivery"
	"github.com/gogatekeeper/identity-relay/pkg/environment"
	"github.com/gogatekeeper/identity-relay/pkg/handlers"
	"github.com/gogatekeeper/identity-relay/pkg/metrics"
	relaymw "github.com/gogatekeeper/identity-relay/pkg/middleware"
	"github.com/gogatekeeper/identity-relay/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func init() {
	prometheus.MustRegister(metrics.Collectors()...)
}

// Server hosts the relay function.
type Server struct {
	Config   *config.Config
	Log      *zap.Logger
	Relay    *handlers.Relay
	Router   http.Handler
	Server   *http.Server
	Listener net.Listener
}

// NewServer creates the relay service from configuration, a nil log is
// built from the logging options.
func NewServer(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Server, error) {
	var err error

	if log == nil {
		if log, err = CreateLogger(cfg); err != nil {
			return nil, err
		}
	}

	if err = cfg.Update(); err != nil {
		return nil, err
	}

	log.Info(
		"starting the service",
		zap.String("prog", constant.Prog),
		zap.String("author", constant.Author),
		zap.String("version", handlers.GetVersion()),
	)

	relay, err := NewRelay(ctx, cfg, log)
	if err != nil {
		return nil, err
	}

	svc := &Server{
		Config: cfg,
		Log:    log,
		Relay:  relay,
	}
	svc.Router = svc.createRouter()

	return svc, nil
}

// CreateLogger is responsible for creating the service logger
func CreateLogger(cfg *config.Config) (*zap.Logger, error) {
	httplog.SetOutput(io.Discard) // disable the http logger

	if cfg.DisableAllLogging {
		return zap.NewNop(), nil
	}

	zapCfg := zap.NewProductionConfig()
	zapCfg.DisableStacktrace = true
	zapCfg.DisableCaller = true
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if !cfg.EnableJSONLogging {
		zapCfg.Encoding = "console"
	}

	if cfg.Verbose {
		httplog.SetOutput(os.Stderr)
		zapCfg.DisableCaller = false
		zapCfg.Development = true
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	return zapCfg.Build()
}

// NewRelay wires the relay collaborators from configuration.
func NewRelay(ctx context.Context, cfg *config.Config, log *zap.Logger) (*handlers.Relay, error) {
	httpClient := &http.Client{}

	credentials := cfg.Credentials()
	if credentials.TokenURL == "" && cfg.DiscoveryURL != "" {
		tokenURL, err := discoverTokenURL(ctx, cfg, log, httpClient)
		if err != nil {
			// missing token url is reported on every invocation
			log.Error("unable to discover the token endpoint", zap.Error(err))
		}
		credentials.TokenURL = tokenURL
	}

	var directory environment.Directory
	if cfg.EnableIAMLookup {
		iamDirectory, err := environment.NewIAMDirectory(ctx)
		if err != nil {
			log.Warn("iam lookups are not available", zap.Error(err))
		} else {
			directory = iamDirectory
		}
	}

	assembler := environment.NewAssembler(
		log,
		cfg.EnvironmentSettings(),
		environment.NewMetadataInspector(nil, cfg.MetadataTimeout),
		directory,
		os.Getenv,
	)

	provider := token.NewProvider(log, httpClient, cfg.TokenTimeout)
	pipeline := delivery.NewPipeline(log, provider, resty.New().SetLogger(log.Sugar()), cfg.DeliveryTimeout)

	return &handlers.Relay{
		Log:         log,
		Payloads:    assembler,
		Tokens:      provider,
		Delivery:    pipeline,
		Credentials: credentials,
		Endpoint:    cfg.EndpointConfig(),
		APIKey:      cfg.APIKey,
		Verbose:     cfg.Verbose,
	}, nil
}

func discoverTokenURL(
	ctx context.Context,
	cfg *config.Config,
	log *zap.Logger,
	client *http.Client,
) (string, error) {
	log.Info(
		"attempting to retrieve the token endpoint from discovery",
		zap.String("url", cfg.DiscoveryURL),
		zap.Duration("timeout", cfg.TokenTimeout),
	)

	var tokenURL string

	operation := func() error {
		discoveryCtx, cancel := context.WithTimeout(ctx, cfg.TokenTimeout)
		defer cancel()

		var err error
		tokenURL, err = token.DiscoverTokenURL(discoveryCtx, client, cfg.DiscoveryURL)
		return err
	}

	notify := func(err error, delay time.Duration) {
		log.Warn(
			"problem retrieving oidc config",
			zap.Error(err),
			zap.Duration("retry after", delay),
		)
	}

	retryCount := cfg.DiscoveryRetryCount
	if retryCount < 0 {
		retryCount = 0
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(retryCount)),
		ctx,
	)
	if err := backoff.RetryNotify(operation, bo, notify); err != nil {
		return "", errors.Join(apperrors.ErrDiscoveryFailed, err)
	}

	log.Info("successfully retrieved the token endpoint", zap.String("token_url", tokenURL))

	return tokenURL, nil
}

func (r *Server) createRouter() http.Handler {
	engine := chi.NewRouter()
	engine.MethodNotAllowed(handlers.EmptyHandler)

	engine.Use(middleware.Recoverer)
	engine.Use(middleware.RealIP)
	engine.Use(relaymw.RequestIDMiddleware(constant.RequestIDHeader))
	engine.Use(relaymw.EntrypointMiddleware(r.Log))
	engine.Use(relaymw.LoggingMiddleware(r.Log, r.Config.Verbose))
	engine.Use(relaymw.ResponseHeaderMiddleware(map[string]string{
		constant.VersionHeader: handlers.GetVersion(),
	}))

	if r.Config.EnableSecurityFilter {
		engine.Use(
			relaymw.SecurityMiddleware(
				r.Log,
				relaymw.SecurityOptions{
					AllowedHosts:          r.Config.Hostnames,
					BrowserXSSFilter:      r.Config.EnableBrowserXSSFilter,
					ContentSecurityPolicy: r.Config.ContentSecurityPolicy,
					ContentTypeNosniff:    r.Config.EnableContentNoSniff,
					FrameDeny:             r.Config.EnableFrameDeny,
					SSLRedirect:           r.Config.EnableHTTPSRedirect,
				},
				handlers.ForbiddenHandler,
			),
		)
	}

	// an empty origins list allows every origin
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:     r.Config.CorsOrigins,
		AllowedMethods:     r.Config.CorsMethods,
		AllowedHeaders:     r.Config.CorsHeaders,
		AllowCredentials:   r.Config.CorsCredentials,
		ExposedHeaders:     r.Config.CorsExposedHeaders,
		MaxAge:             int(r.Config.CorsMaxAge.Seconds()),
		OptionsPassthrough: true,
		Debug:              r.Config.Verbose,
	})
	engine.Use(corsHandler.Handler)

	engine.Get(constant.HealthURL, handlers.HealthHandler)
	if r.Config.EnableMetrics {
		r.Log.Info("enabled the metrics endpoint", zap.String("path", constant.MetricsURL))
		engine.Handle(constant.MetricsURL, promhttp.Handler())
	}
	engine.Handle(constant.RelayURL, r.Relay)

	return engine
}

// Run starts serving the relay, it returns once the listener is bound.
func (r *Server) Run() error {
	listener, err := net.Listen("tcp", r.Config.Listen)
	if err != nil {
		return errors.Join(apperrors.ErrStartMainHTTP, err)
	}

	server := &http.Server{
		Addr:         r.Config.Listen,
		Handler:      r.Router,
		ReadTimeout:  r.Config.ServerReadTimeout,
		WriteTimeout: r.Config.ServerWriteTimeout,
		IdleTimeout:  r.Config.ServerIdleTimeout,
	}

	r.Server = server
	r.Listener = listener

	go func() {
		r.Log.Info(
			"relay service starting",
			zap.String("interface", listener.Addr().String()),
		)

		if err := server.Serve(listener); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				r.Log.Fatal("failed to start the http service", zap.Error(err))
			}
		}
	}()

	return nil
}

// Shutdown waits for the in-flight invocations up to the grace timeout.
func (r *Server) Shutdown() error {
	if r.Server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Config.ServerGraceTimeout)
	defer cancel()

	r.Log.Info("shutting down the relay service", zap.Duration("grace", r.Config.ServerGraceTimeout))

	return r.Server.Shutdown(ctx)
}
