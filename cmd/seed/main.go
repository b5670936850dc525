// seed inserts development users for local testing, optionally enrolls the member in a mirrored
// course, and prints access tokens for both. Idempotent: existing users and enrollments are kept.
//
//	go run ./cmd/seed [-course intro]
//
// Token issuing needs JWT_PRIVATE_KEY.
package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"lms-bridge/internal/app"
	catalogrepo "lms-bridge/internal/catalog/repository"
	"lms-bridge/internal/config"
	"lms-bridge/internal/db"
	enrollmentdomain "lms-bridge/internal/enrollment/domain"
	enrollmentrepo "lms-bridge/internal/enrollment/repository"
	"lms-bridge/internal/logging"
	userdomain "lms-bridge/internal/user/domain"
	userrepo "lms-bridge/internal/user/repository"
)

var devUsers = []*userdomain.User{
	{ID: "dev-admin-001", Email: "admin@example.com", Role: userdomain.RoleAdmin, FirstName: "Dev", LastName: "Admin"},
	{ID: "dev-user-001", Email: "jane.doe@example.com", Role: userdomain.RoleUser, FirstName: "Jane", LastName: "Doe"},
}

func main() {
	courseSlug := flag.String("course", "", "slug of a mirrored course to enroll the member in")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.WithError(err).Fatal("db")
	}
	defer conn.Close()
	ctx := context.Background()

	users := userrepo.NewPostgresRepository(conn)
	now := time.Now().UTC()
	for _, u := range devUsers {
		existing, err := users.GetByID(ctx, u.ID)
		if err != nil {
			log.WithError(err).Fatal("seed check")
		}
		if existing != nil {
			log.WithField("email", u.Email).Info("user exists, skipping")
			continue
		}
		u.CreatedAt, u.UpdatedAt = now, now
		if err := users.Create(ctx, u); err != nil {
			log.WithError(err).WithField("email", u.Email).Fatal("create user")
		}
		log.WithField("email", u.Email).Info("user created")
	}

	if *courseSlug != "" {
		course, err := catalogrepo.NewPostgresRepository(conn).GetCourseBySlug(ctx, *courseSlug)
		if err != nil {
			log.WithError(err).Fatal("load course")
		}
		if course == nil {
			log.WithField("slug", *courseSlug).Fatal("course not found; run cmd/sync first")
		}
		member := devUsers[1]
		if err := enrollmentrepo.NewPostgresRepository(conn).Create(ctx, &enrollmentdomain.Enrollment{
			UserID:    member.ID,
			CourseID:  course.ID,
			Status:    enrollmentdomain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			log.WithError(err).Fatal("create enrollment")
		}
		log.WithFields(logrus.Fields{"user": member.Email, "course": course.Slug}).Info("enrolled")
	}

	if cfg.JWTPrivateKey == "" {
		log.Info("JWT_PRIVATE_KEY not set; no access tokens issued")
		return
	}
	tokens, err := app.NewTokenProvider(cfg)
	if err != nil {
		log.WithError(err).Fatal("token provider")
	}
	for _, u := range devUsers {
		token, expiresAt, err := tokens.IssueAccess(u.ID, string(u.Role))
		if err != nil {
			log.WithError(err).Fatal("issue access token")
		}
		fmt.Printf("%s (%s, expires %s):\n%s\n\n", u.Email, u.Role, expiresAt.Format(time.RFC3339), token)
	}
}
