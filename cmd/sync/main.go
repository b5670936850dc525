// sync runs one catalog or diagnostic operation against the configured platform and prints the
// result as JSON:
//
//	go run ./cmd/sync -op full|categories|courses|test|siteinfo
//	go run ./cmd/sync -op recover-password -user <id>   (needs SECRET_IDENTITY)
//
// It shares the cross-process sync lock with the server, so a run started while another is in
// progress exits with an error.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/app"
	catalogdomain "lms-bridge/internal/catalog/domain"
	"lms-bridge/internal/config"
	"lms-bridge/internal/lms"
	"lms-bridge/internal/logging"
)

type catalog interface {
	SyncCategories(ctx context.Context) (*catalogdomain.SyncResult, error)
	SyncCourses(ctx context.Context) (*catalogdomain.SyncResult, error)
	FullSync(ctx context.Context) (*catalogdomain.FullSyncResult, error)
}

type platform interface {
	TestConnection(ctx context.Context) (bool, error)
	GetSiteInfo(ctx context.Context) (*lms.SiteInfo, error)
}

type passwords interface {
	RecoverPassword(ctx context.Context, userID string) (string, error)
}

var errUnknownOp = errors.New("unknown -op")

func main() {
	op := flag.String("op", "full", "full, categories, courses, test, siteinfo or recover-password")
	userID := flag.String("user", "", "local user id for recover-password")
	timeout := flag.Duration("timeout", 10*time.Minute, "overall deadline")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup failed")
	}

	var pw passwords
	if *op == "recover-password" {
		p, err := a.NewProvisioner()
		if err != nil {
			a.Close(context.Background())
			log.WithError(err).Fatal("provisioner")
		}
		pw = p
	}
	err = run(ctx, *op, *userID, a.Catalog, a.LMS, pw, os.Stdout)
	a.Close(context.Background())
	if err != nil {
		log.WithError(err).WithField("op", *op).Fatal("sync failed")
	}
}

func run(ctx context.Context, op, userID string, cat catalog, plat platform, pw passwords, out io.Writer) error {
	var (
		result any
		err    error
	)
	switch op {
	case "full":
		result, err = cat.FullSync(ctx)
	case "categories":
		result, err = cat.SyncCategories(ctx)
	case "courses":
		result, err = cat.SyncCourses(ctx)
	case "test":
		var ok bool
		ok, err = plat.TestConnection(ctx)
		result = map[string]bool{"ok": ok}
	case "siteinfo":
		result, err = plat.GetSiteInfo(ctx)
	case "recover-password":
		if userID == "" || pw == nil {
			return errors.New("recover-password needs -user")
		}
		var plain string
		plain, err = pw.RecoverPassword(ctx, userID)
		result = map[string]string{"user_id": userID, "password": plain}
	default:
		return fmt.Errorf("%w %q", errUnknownOp, op)
	}
	if result != nil {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(result); encErr != nil && err == nil {
			err = encErr
		}
	}
	return err
}
