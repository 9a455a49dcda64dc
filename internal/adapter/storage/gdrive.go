package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/semmidev/davkeep/internal/config"
	"github.com/semmidev/davkeep/internal/domain"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const folderMimeType = "application/vnd.google-apps.folder"

var _ domain.RemoteFileStore = (*GDriveStorage)(nil)

// GDriveStorage resolves remote paths segment by segment from folderID.
// Drive allows duplicate names in a folder; the first match wins.
type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(ctx context.Context, cfg *config.GDriveConfig) (*GDriveStorage, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func splitRemotePath(p string) []string {
	clean := strings.Trim(path.Clean("/"+p), "/")
	if clean == "" {
		return nil
	}
	return strings.Split(clean, "/")
}

// escapeQuery quotes a value for a Drive search query.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func childQuery(parentID, name string) string {
	return fmt.Sprintf("'%s' in parents and name='%s' and trashed=false", escapeQuery(parentID), escapeQuery(name))
}

func (g *GDriveStorage) findChild(ctx context.Context, parentID, name string) (*drive.File, error) {
	fileList, err := g.service.Files.List().
		Q(childQuery(parentID, name)).
		Fields("files(id, name, mimeType, modifiedTime, size, md5Checksum)").
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to find %s: %w", name, err)
	}
	if len(fileList.Files) == 0 {
		return nil, nil
	}
	return fileList.Files[0], nil
}

// resolve returns the file at p, or fs.ErrNotExist.
func (g *GDriveStorage) resolve(ctx context.Context, p string) (*drive.File, error) {
	current := &drive.File{Id: g.folderID, MimeType: folderMimeType}

	for _, segment := range splitRemotePath(p) {
		child, err := g.findChild(ctx, current.Id, segment)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return nil, fmt.Errorf("%s: %w", p, fs.ErrNotExist)
		}
		current = child
	}

	return current, nil
}

func (g *GDriveStorage) Exists(ctx context.Context, p string) (bool, error) {
	_, err := g.resolve(ctx, p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (g *GDriveStorage) CreateDirectory(ctx context.Context, p string, recursive bool) error {
	segments := splitRemotePath(p)
	parentID := g.folderID

	for i, segment := range segments {
		child, err := g.findChild(ctx, parentID, segment)
		if err != nil {
			return err
		}

		if child == nil {
			if !recursive && i < len(segments)-1 {
				return fmt.Errorf("failed to create directory %s: %w", p, fs.ErrNotExist)
			}
			child, err = g.service.Files.Create(&drive.File{
				Name:     segment,
				MimeType: folderMimeType,
				Parents:  []string{parentID},
			}).Fields("id").Context(ctx).Do()
			if err != nil {
				return fmt.Errorf("failed to create folder %s: %w", segment, err)
			}
		}

		parentID = child.Id
	}

	return nil
}

func (g *GDriveStorage) GetDirectoryContents(ctx context.Context, dir string) ([]domain.FileStat, error) {
	folder, err := g.resolve(ctx, dir)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("'%s' in parents and trashed=false", escapeQuery(folder.Id))

	var entries []domain.FileStat
	err = g.service.Files.List().
		Q(query).
		Fields("nextPageToken, files(id, name, mimeType, modifiedTime, size, md5Checksum)").
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			for _, file := range page.Files {
				entries = append(entries, driveStat(dir, file))
			}
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return entries, nil
}

func driveStat(dir string, file *drive.File) domain.FileStat {
	stat := domain.FileStat{
		Basename: file.Name,
		Filename: path.Join(dir, file.Name),
		Type:     domain.EntryFile,
		Size:     file.Size,
		ETag:     file.Md5Checksum,
	}
	if file.MimeType == folderMimeType {
		stat.Type = domain.EntryDirectory
	}
	if modified, err := time.Parse(time.RFC3339, file.ModifiedTime); err == nil {
		stat.LastModified = modified
	}
	return stat
}

// MoveFile renames the file and, when the parent changes, re-parents it.
func (g *GDriveStorage) MoveFile(ctx context.Context, source, destination string) error {
	file, err := g.resolve(ctx, source)
	if err != nil {
		return err
	}

	srcParent, err := g.resolve(ctx, path.Dir(source))
	if err != nil {
		return err
	}
	dstParent, err := g.resolve(ctx, path.Dir(destination))
	if err != nil {
		return err
	}

	call := g.service.Files.Update(file.Id, &drive.File{Name: path.Base(destination)})
	if srcParent.Id != dstParent.Id {
		call = call.AddParents(dstParent.Id).RemoveParents(srcParent.Id)
	}

	if _, err := call.Fields("id").Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to move %s: %w", source, err)
	}
	return nil
}

func (g *GDriveStorage) DeleteFile(ctx context.Context, p string) error {
	file, err := g.resolve(ctx, p)
	if err != nil {
		return err
	}

	if err := g.service.Files.Delete(file.Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// PutFileContents updates the media of an existing file so its id survives,
// or creates the file in the parent folder.
func (g *GDriveStorage) PutFileContents(ctx context.Context, p string, content io.Reader, opts domain.PutOptions) (domain.WriteResult, error) {
	parent, err := g.resolve(ctx, path.Dir(p))
	if err != nil {
		return domain.WriteResult{}, err
	}

	name := path.Base(p)
	existing, err := g.findChild(ctx, parent.Id, name)
	if err != nil {
		return domain.WriteResult{}, err
	}

	var media []googleapi.MediaOption
	if opts.ContentType != "" {
		media = append(media, googleapi.ContentType(opts.ContentType))
	}

	var file *drive.File
	if existing != nil {
		file, err = g.service.Files.Update(existing.Id, &drive.File{}).
			Media(content, media...).
			Fields("id, size, md5Checksum").
			Context(ctx).
			Do()
	} else {
		file, err = g.service.Files.Create(&drive.File{
			Name:    name,
			Parents: []string{parent.Id},
		}).
			Media(content, media...).
			Fields("id, size, md5Checksum").
			Context(ctx).
			Do()
	}
	if err != nil {
		return domain.WriteResult{}, fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return domain.WriteResult{Path: p, Size: file.Size, ETag: file.Md5Checksum}, nil
}

func (g *GDriveStorage) GetFileContents(ctx context.Context, p string, opts domain.GetOptions) (io.ReadCloser, error) {
	file, err := g.resolve(ctx, p)
	if err != nil {
		return nil, err
	}

	call := g.service.Files.Get(file.Id).Context(ctx)
	if opts.Ranged() {
		call.Header().Set("Range", byteRange(opts))
	}

	resp, err := call.Download()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == http.StatusNotFound {
			err = fmt.Errorf("%w: %w", fs.ErrNotExist, err)
		}
		return nil, fmt.Errorf("failed to download %s: %w", p, err)
	}
	return resp.Body, nil
}
