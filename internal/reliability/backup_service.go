// Package reliability keeps the trade ledger recoverable: a nightly
// snapshot of the trades database is uploaded to S3-compatible storage.
package reliability

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aristath/helmsman/internal/database"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"
)

// Config holds the S3-compatible storage target. Works with AWS S3 as well
// as R2/MinIO-style providers via the Endpoint override.
type Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	KeyPrefix string
}

// BackupService snapshots the ledger database and uploads it
type BackupService struct {
	db       *database.DB
	uploader *manager.Uploader
	cfg      Config
	log      zerolog.Logger
}

// NewBackupService creates a backup service for the given database
func NewBackupService(ctx context.Context, db *database.DB, cfg Config, log zerolog.Logger) (*BackupService, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("backup bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "auto"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "backups"
	}

	creds := credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load storage config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := cfg.Endpoint
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}

	client := s3.NewFromConfig(awsCfg, s3Opts...)

	return &BackupService{
		db:       db,
		uploader: manager.NewUploader(client),
		cfg:      cfg,
		log:      log.With().Str("service", "backup").Logger(),
	}, nil
}

// Backup snapshots the database with VACUUM INTO (a consistent copy even
// while the live database keeps taking writes) and uploads the snapshot.
func (s *BackupService) Backup(ctx context.Context) error {
	started := time.Now()

	snapshotPath := filepath.Join(os.TempDir(),
		fmt.Sprintf("%s-backup-%d.db", s.db.Name(), started.UnixNano()))
	defer os.Remove(snapshotPath)

	if err := s.snapshot(ctx, snapshotPath); err != nil {
		return err
	}

	file, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat snapshot: %w", err)
	}

	key := fmt.Sprintf("%s/%s-%s.db", s.cfg.KeyPrefix, s.db.Name(), started.UTC().Format("2006-01-02"))
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        file,
		ContentType: aws.String("application/vnd.sqlite3"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload backup %s: %w", key, err)
	}

	s.log.Info().
		Str("key", key).
		Int64("bytes", info.Size()).
		Dur("took", time.Since(started)).
		Msg("Ledger backup uploaded")

	return nil
}

// snapshot runs VACUUM INTO against a fresh temp path. SQLite rejects
// parameters in VACUUM, so the path is embedded with quote escaping.
func (s *BackupService) snapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		// VACUUM INTO refuses to overwrite
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to clear stale snapshot: %w", err)
		}
	}

	escaped := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.Conn().ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", escaped)); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}
