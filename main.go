package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/commkeep/commkeep/internal/auth"
	"github.com/commkeep/commkeep/internal/backup"
	"github.com/commkeep/commkeep/internal/calendar"
	"github.com/commkeep/commkeep/internal/checkpoint"
	"github.com/commkeep/commkeep/internal/config"
	"github.com/commkeep/commkeep/internal/events"
	"github.com/commkeep/commkeep/internal/format"
	"github.com/commkeep/commkeep/internal/logger"
	"github.com/commkeep/commkeep/internal/providers/gcal"
	"github.com/commkeep/commkeep/internal/providers/outlookcal"
	"github.com/commkeep/commkeep/internal/recordstore"
	"github.com/commkeep/commkeep/internal/session"
	"github.com/commkeep/commkeep/internal/vault"
)

type credentialsRequest struct {
	Email  string `json:"email" binding:"required"`
	Secret string `json:"secret" binding:"required"`
}

type backupRequest struct {
	Email string `json:"email"`
}

func main() {
	cli := config.ParseFlags()
	cfg, err := config.Load(cli)
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}

	log, err := logger.NewProduction()
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer log.Sync()

	if err := os.MkdirAll(cfg.Data.Dir, 0755); err != nil {
		log.Fatal("create data dir", logger.F("err", err.Error()))
	}

	archive, err := recordstore.Open(filepath.Join(cfg.Data.Dir, "archive.db"))
	if err != nil {
		log.Fatal("open archive", logger.F("err", err.Error()))
	}
	defer archive.Close()

	checkpoints, err := checkpoint.Open(filepath.Join(cfg.Data.Dir, "state.json"))
	if err != nil {
		log.Fatal("open state", logger.F("err", err.Error()))
	}

	secrets := vault.Open(filepath.Join(cfg.Data.Dir, "secrets.json"))

	var publisher *events.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = events.NewPublisher(cfg.NATS.URL)
		if err != nil {
			log.Warn("events disabled", logger.F("err", err.Error()))
			publisher = nil
		} else {
			defer publisher.Close()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := publisher.EnsureStream(ctx); err != nil {
				log.Warn("failed to ensure event stream", logger.F("err", err.Error()))
			}
			cancel()
		}
	}

	dial := dialFunc(cfg.Remote)
	manager := backup.NewManager(log)
	defer manager.StopAll()

	r := gin.Default()

	authorized := r.Group("/")
	if cfg.Server.JWKSURL != "" {
		verifier, err := auth.NewVerifier(cfg.Server.JWKSURL)
		if err != nil {
			log.Fatal("jwt verifier", logger.F("err", err.Error()))
		}
		authorized.Use(authMiddleware(verifier))
	}

	resolveAccount := func(requested string) string {
		if requested != "" {
			return requested
		}
		if cfg.Account.Email != "" {
			return cfg.Account.Email
		}
		return checkpoints.Email()
	}

	authorized.POST("/backup", func(c *gin.Context) {
		var req backupRequest
		_ = c.ShouldBindJSON(&req)

		account := resolveAccount(req.Email)
		if account == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no account configured"})
			return
		}
		secret, ok := secrets.Get(account)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no credentials stored for " + account})
			return
		}
		if checkpoints.Email() != account {
			if err := checkpoints.SetEmail(account); err != nil {
				log.Warn("failed to persist account", logger.F("err", err.Error()))
			}
		}

		runner := &backup.Runner{
			Account:     account,
			Source:      archive,
			Checkpoints: checkpoints,
			Session:     session.New(dial, log, cfg.Remote.AckIdleTimeout),
			Credentials: session.Credentials{Email: account, Secret: secret},
			Containers: backup.Containers{
				Messages: cfg.Remote.MessagesContainer,
				Calls:    cfg.Remote.CallsContainer,
			},
			Formatter:      format.New(account, checkpoints.Templates()),
			CalendarMirror: calendarMirror(cfg, checkpoints, log),
			Log:            log,
		}
		if publisher != nil {
			runner.Events = publisher
		}

		if err := manager.Start(context.Background(), account, runner); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"account": account, "status": "started"})
	})

	authorized.DELETE("/backup", func(c *gin.Context) {
		account := resolveAccount(c.Query("email"))
		if err := manager.Cancel(account); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": account, "status": "cancelling"})
	})

	authorized.GET("/backup/status", func(c *gin.Context) {
		account := resolveAccount(c.Query("email"))
		c.JSON(http.StatusOK, manager.Status(account))
	})

	authorized.GET("/backup/pending", func(c *gin.Context) {
		ctx := c.Request.Context()
		messages, err := archive.CountMessages(ctx, checkpoints.Cursor("messages"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		calls, err := archive.CountCalls(ctx, checkpoints.Cursor("calls"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"messages": messages, "calls": calls})
	})

	authorized.POST("/credentials", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := secrets.Set(req.Email, req.Secret); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"account": req.Email})
	})

	authorized.DELETE("/credentials", func(c *gin.Context) {
		account := c.Query("email")
		if account == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email required"})
			return
		}
		if err := secrets.Delete(account); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"account": account})
	})

	authorized.POST("/credentials/test", func(c *gin.Context) {
		var req credentialsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
		defer cancel()

		err := session.TestCredentials(ctx, dial, log, session.Credentials{Email: req.Email, Secret: req.Secret})
		if err != nil {
			c.JSON(http.StatusOK, gin.H{"ok": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	log.Info("control API listening", logger.F("addr", cfg.Server.Addr))
	if err := r.Run(cfg.Server.Addr); err != nil {
		log.Fatal("server", logger.F("err", err.Error()))
	}
}

func dialFunc(remote config.RemoteConfig) session.DialFunc {
	if remote.Command != "" {
		return session.ChildDialer(remote.Command, remote.Args...)
	}
	return session.TCPDialer(remote.Addr, remote.TLS, remote.DialTimeout)
}

// calendarMirror builds the secondary sink when it is enabled and a token
// can be fetched. Any failure here downgrades to "no calendar mirror";
// it never blocks the mail backup. The mirror outlives the HTTP request
// that starts a run, so its token fetch and the HTTP client baked into the
// provider adapter must not be bound to a request context.
func calendarMirror(cfg *config.Config, checkpoints *checkpoint.Store, log logger.Logger) *calendar.Mirror {
	if !checkpoints.Toggles().MirrorCalendar || cfg.Calendar.Provider == "" {
		return nil
	}

	ctx := context.Background()
	fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tokens := auth.NewTokenClient(cfg.Calendar.TokenURL)

	var (
		sink calendar.Sink
		err  error
	)
	switch cfg.Calendar.Provider {
	case "google":
		var tok *auth.Token
		tok, err = tokens.GetToken(fetchCtx, cfg.Calendar.Bearer, auth.ProviderGoogle)
		if err == nil {
			sink, err = gcal.New(ctx, tok, cfg.Calendar.CalendarID)
		}
	case "microsoft":
		var tok *auth.Token
		tok, err = tokens.GetToken(fetchCtx, cfg.Calendar.Bearer, auth.ProviderMicrosoft)
		if err == nil {
			sink, err = outlookcal.New(ctx, tok, "me")
		}
	default:
		log.Warn("unknown calendar provider", logger.F("provider", cfg.Calendar.Provider))
		return nil
	}
	if err != nil {
		log.Warn("calendar mirror unavailable", logger.F("err", err.Error()))
		return nil
	}

	return calendar.NewMirror(sink, cfg.Calendar.Delay, log)
}

func authMiddleware(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := verifier.UserFromRequest(c.Request)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}
		c.Set("user", user)
		c.Next()
	}
}
