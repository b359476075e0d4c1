package upload

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/tphakala/motioncam/internal/conf"
	"github.com/tphakala/motioncam/internal/errors"
	"github.com/tphakala/motioncam/internal/logger"
)

const (
	DefaultTimeout = 5 * time.Minute
	videoMimeType  = "video/mp4"
)

// Uploader stores a local file remotely and returns its remote id.
type Uploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// tokenFile is an authorized user credential with a refresh token.
type tokenFile struct {
	Type         string    `json:"type"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	TokenURI     string    `json:"token_uri"`
	ClientID     string    `json:"client_id"`
	ClientSecret string    `json:"client_secret"`
	Scopes       []string  `json:"scopes"`
	Expiry       time.Time `json:"expiry"`
}

// DriveUploader uploads videos into a Google Drive folder.
type DriveUploader struct {
	service  *drive.Service
	folderID string
	timeout  time.Duration
	log      logger.Logger
}

// NewDriveUploader builds a Drive client from the configured credentials file.
// The file is either a service account key or an authorized user token with a refresh token.
func NewDriveUploader(ctx context.Context, settings conf.UploadSettings) (*DriveUploader, error) {
	if settings.CredentialsFile == "" {
		return nil, errors.Newf("drive credentials file is not configured").
			Component("upload").
			Category(errors.CategoryConfiguration).
			Build()
	}

	opt, err := credentialsOption(ctx, settings.CredentialsFile)
	if err != nil {
		return nil, err
	}
	return newDriveUploader(ctx, settings.FolderID, settings.Timeout, opt)
}

func newDriveUploader(ctx context.Context, folderID string, timeout time.Duration, opts ...option.ClientOption) (*DriveUploader, error) {
	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.New(err).
			Component("upload").
			Category(errors.CategoryUpload).
			Context("operation", "create_service").
			Build()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &DriveUploader{
		service:  service,
		folderID: folderID,
		timeout:  timeout,
		log:      GetLogger(),
	}, nil
}

func credentialsOption(ctx context.Context, path string) (option.ClientOption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(err).
			Component("upload").
			Category(errors.CategoryConfiguration).
			Context("credentials_file", path).
			Build()
	}

	var tf tokenFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, errors.New(err).
			Component("upload").
			Category(errors.CategoryConfiguration).
			Context("credentials_file", path).
			Build()
	}

	if tf.Type == "service_account" || tf.RefreshToken == "" {
		return option.WithCredentialsFile(path), nil
	}

	cfg := &oauth2.Config{
		ClientID:     tf.ClientID,
		ClientSecret: tf.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tf.TokenURI},
		Scopes:       tf.Scopes,
	}
	token := &oauth2.Token{
		AccessToken:  tf.Token,
		RefreshToken: tf.RefreshToken,
		Expiry:       tf.Expiry,
	}
	// the token source refreshes expired access tokens on demand
	return option.WithTokenSource(cfg.TokenSource(ctx, token)), nil
}

// Upload sends the file to Drive and returns the new file id.
func (u *DriveUploader) Upload(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.New(err).
			Component("upload").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	meta := &drive.File{Name: filepath.Base(path), MimeType: videoMimeType}
	if u.folderID != "" {
		meta.Parents = []string{u.folderID}
	}

	start := time.Now()
	created, err := u.service.Files.Create(meta).
		Media(f).
		Fields("id").
		Context(ctx).
		Do()
	if err != nil {
		return "", errors.New(err).
			Component("upload").
			Category(errors.CategoryUpload).
			Context("path", path).
			Context("folder_id", u.folderID).
			Build()
	}

	u.log.Info("video uploaded",
		logger.String("file", filepath.Base(path)),
		logger.String("remote_id", created.Id),
		logger.Duration("elapsed", time.Since(start)))
	return created.Id, nil
}
