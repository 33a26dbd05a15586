package main

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kix/docs" //this is required to generate swagger docs
	"kix/internal/auth"
	"kix/internal/esewa"
	"kix/internal/mailer"
	"kix/internal/ratelimiter"
	"kix/internal/refcode"
	"kix/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

type application struct {
	config        config
	store         store.Storage
	logger        *zap.SugaredLogger
	esewa         *esewa.Client
	mailer        mailer.Client
	authenticator auth.Authenticator
	rateLimiter   ratelimiter.Limiter
	refs          *refcode.Codec
}

type config struct {
	addr        string
	env         string
	apiURL      string
	frontendURL string
	db          dbConfig
	auth        authConfig
	payment     paymentConfig
	mail        mailConfig
	rateLimiter ratelimiter.Config
}

type dbConfig struct {
	addr        string
	maxConns    int
	maxIdleTime string
}

type authConfig struct {
	basic basicConfig
	token tokenConfig
}

type tokenConfig struct {
	secret string
	iss    string
	aud    string
}

type basicConfig struct {
	user string
	pass string
}

type paymentConfig struct {
	mode string
	// reconcileEvery is how often pending attempts are re-verified; zero
	// disables the background reconciler.
	reconcileEvery time.Duration
	esewa          esewa.Config
}

type mailConfig struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
}

func (app *application) mount() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{app.config.frontendURL},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.With(app.BasicAuthMiddleware()).Get("/health", app.healthCheckHandler)
		docsURL := fmt.Sprintf("%s/swagger/doc.json", app.config.addr)
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(docsURL)))

		r.With(app.BasicAuthMiddleware()).Get("/debug/vars", expvar.Handler().ServeHTTP)

		r.Route("/payments/esewa", func(r chi.Router) {
			r.Use(app.RateLimitMiddleware)

			// Browser legs: the gateway and the shopper's browser hit these,
			// so they carry no auth and always answer with HTML or a redirect.
			r.Get("/start", app.esewaStartHandler)
			r.Get("/return", app.esewaReturnHandler)

			// SPA legs.
			r.With(app.AuthTokenMiddleware).Post("/initiate", app.esewaInitiateHandler)
			r.With(app.AuthTokenMiddleware).Get("/status", app.esewaStatusHandler)

			// Support/reconciliation.
			r.With(app.BasicAuthMiddleware()).Post("/verify", app.esewaVerifyHandler)
			r.With(app.BasicAuthMiddleware()).Get("/attempts", app.esewaListAttemptsHandler)
		})
	})

	return r
}

func (app *application) run(mux http.Handler) error {
	docs.SwaggerInfo.Version = version
	docs.SwaggerInfo.Host = app.config.apiURL
	docs.SwaggerInfo.BasePath = "/v1"

	srv := &http.Server{
		Addr:         app.config.addr,
		Handler:      mux,
		WriteTimeout: time.Second * 30,
		ReadTimeout:  time.Second * 10,
		IdleTimeout:  time.Minute,
	}

	shutdown := make(chan error)

	go func() {
		quit := make(chan os.Signal, 1)

		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		s := <-quit

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		app.logger.Infow("signal caught", "signal", s.String())

		shutdown <- srv.Shutdown(ctx)
	}()

	app.logger.Infow("server has started", "addr", app.config.addr, "env", app.config.env)

	err := srv.ListenAndServe()
	if !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err = <-shutdown
	if err != nil {
		return err
	}

	app.logger.Infow("server has stopped", "addr", app.config.addr)
	return nil
}
