// Package sftp provides an SFTP backend for rfs.
//
// The configured remote root directory is the storage root; its
// top-level directories are the locators. "sftp://host/share/file.txt"
// addresses "<root>/share/file.txt" on the server.
//
// Basic usage with password authentication:
//
//	sys, err := sftp.NewSystem(sftp.Config{
//	    Host:     "example.com",
//	    User:     "username",
//	    Password: "password",
//	})
//
// With SSH key authentication:
//
//	sys, err := sftp.NewSystem(sftp.Config{
//	    Host:    "example.com",
//	    User:    "username",
//	    KeyFile: "/path/to/id_rsa",
//	})
package sftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/JGoutin/rfs"
)

func init() {
	rfs.RegisterScheme("sftp", func(settings map[string]string) (*rfs.System, error) {
		return NewSystem(ConfigFromMap(settings))
	})
}

// Backend implements rfs.Client over an SFTP session. Multipart uploads
// have no SFTP equivalent; buffered writes fall back to a single put.
type Backend struct {
	rfs.UnsupportedOps

	sshClient  *ssh.Client
	sftpClient *sftp.Client
	config     Config
}

var _ rfs.Client = (*Backend)(nil)

// New dials the server and creates a new SFTP backend.
func New(cfg Config) (*Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}

	var authMethods []ssh.AuthMethod

	if cfg.Password != "" {
		authMethods = append(authMethods, ssh.Password(cfg.Password))
	}

	if cfg.KeyFile != "" {
		keyAuth, err := keyFileAuth(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("sftp: loading key file: %w", err)
		}
		authMethods = append(authMethods, keyAuth)
	}

	if len(authMethods) == 0 {
		return nil, ErrAuthRequired
	}

	sshConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            authMethods,
		Timeout:         time.Duration(cfg.Timeout) * time.Second,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // G106: known-hosts verification not wired yet
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	sshClient, err := ssh.Dial("tcp", addr, sshConfig)
	if err != nil {
		return nil, fmt.Errorf("sftp: SSH connection failed: %w", err)
	}

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		if closeErr := sshClient.Close(); closeErr != nil {
			return nil, fmt.Errorf("sftp: SFTP session failed: %w (also failed to close SSH: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("sftp: SFTP session failed: %w", err)
	}

	return &Backend{
		sshClient:  sshClient,
		sftpClient: sftpClient,
		config:     cfg,
	}, nil
}

// keyFileAuth creates an SSH auth method from a private key file.
func keyFileAuth(keyFile, passphrase string) (ssh.AuthMethod, error) {
	keyData, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	return ssh.PublicKeys(signer), nil
}

// Spec describes the SFTP namespace: host-qualified roots, stat-derived
// header field names and capabilities. SFTP supports in-place seeks but
// has no multipart upload.
func Spec(cfg Config) rfs.Spec {
	roots := []rfs.Root{{Prefix: "sftp://" + cfg.Host}}
	if cfg.Port != 0 && cfg.Port != 22 {
		roots = []rfs.Root{
			{Prefix: fmt.Sprintf("sftp://%s:%d", cfg.Host, cfg.Port)},
			{Prefix: "sftp://" + cfg.Host},
		}
	}
	return rfs.Spec{
		Scheme:    "sftp",
		Roots:     roots,
		SizeKeys:  []string{"Size"},
		MTimeKeys: []string{"Mtime"},
		Capabilities: rfs.Capabilities{
			Write:        true,
			RandomWrite:  true,
			ListLocators: true,
			List:         true,
			MakeDir:      true,
			Remove:       true,
			Copy:         true,
		},
	}
}

// NewSystem builds an rfs.System over an SFTP backend. The connection is
// dialed on first use.
func NewSystem(cfg Config, opts ...rfs.Option) (*rfs.System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return rfs.NewSystem(Spec(cfg), func() (rfs.Client, error) { return New(cfg) }, opts...)
}

// Close tears down the SFTP session and its SSH connection.
func (b *Backend) Close() error {
	err := b.sftpClient.Close()
	if closeErr := b.sshClient.Close(); err == nil {
		err = closeErr
	}
	return err
}

// fullPath joins the configured root, locator and key into a remote path.
func (b *Backend) fullPath(addr rfs.Addressing) string {
	return path.Join(b.config.Root, addr.Locator, strings.TrimRight(addr.Key, "/"))
}

// headerFromInfo builds a header from stat results. Nonstandard fields
// surface as extended attributes.
func headerFromInfo(info fs.FileInfo) rfs.Header {
	header := rfs.Header{
		"Size":  strconv.FormatInt(info.Size(), 10),
		"Mtime": info.ModTime().UTC().Format(time.RFC3339Nano),
		"Mode":  info.Mode().String(),
	}
	if st, ok := info.Sys().(*sftp.FileStat); ok && st != nil {
		header["Uid"] = strconv.FormatUint(uint64(st.UID), 10)
		header["Gid"] = strconv.FormatUint(uint64(st.GID), 10)
	}
	if info.IsDir() {
		// Directory sizes are filesystem bookkeeping, not content.
		header["Size"] = "0"
	}
	return header
}

// HeadObject returns the metadata header of one file or directory.
func (b *Backend) HeadObject(ctx context.Context, addr rfs.Addressing) (rfs.Header, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := b.sftpClient.Stat(b.fullPath(addr))
	if err != nil {
		return nil, translateError(err)
	}
	return headerFromInfo(info), nil
}

// HeadLocator returns the metadata header of one top-level directory.
func (b *Backend) HeadLocator(ctx context.Context, locator string) (rfs.Header, error) {
	return b.HeadObject(ctx, rfs.Addressing{Locator: locator})
}

// ListLocators enumerates the top-level directories of the remote root.
func (b *Backend) ListLocators(ctx context.Context) ([]rfs.ObjectEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	infos, err := b.sftpClient.ReadDir(b.config.Root)
	if err != nil {
		return nil, translateError(err)
	}

	var entries []rfs.ObjectEntry
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}
		entries = append(entries, rfs.ObjectEntry{
			Name:   info.Name(),
			Header: headerFromInfo(info),
		})
	}
	return entries, nil
}

// ListObjects walks the locator directory and returns every entry under
// prefix in one page. SFTP has no server-side pagination, so the next
// page token is always empty.
func (b *Backend) ListObjects(ctx context.Context, locator, prefix, pageToken string, maxEntries int) ([]rfs.ObjectEntry, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	base := path.Join(b.config.Root, locator)

	var entries []rfs.ObjectEntry
	walker := b.sftpClient.Walk(base)
	for walker.Step() {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}
		if err := walker.Err(); err != nil {
			return nil, "", translateError(err)
		}

		rel := strings.TrimPrefix(strings.TrimPrefix(walker.Path(), base), "/")
		if rel == "" {
			continue
		}
		info := walker.Stat()
		name := rel
		if info.IsDir() {
			name += "/"
		}
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			if info.IsDir() && strings.HasPrefix(prefix, name) {
				continue
			}
			if info.IsDir() {
				walker.SkipDir()
			}
			continue
		}
		entries = append(entries, rfs.ObjectEntry{
			Name:   name,
			Header: headerFromInfo(info),
		})
	}

	return entries, "", nil
}

// GetRange reads [start, end) of a file.
func (b *Backend) GetRange(ctx context.Context, addr rfs.Addressing, start, end int64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := b.sftpClient.Open(b.fullPath(addr))
	if err != nil {
		return nil, translateError(err)
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, translateError(err)
	}

	var data []byte
	if end > 0 {
		data = make([]byte, end-start)
		n, err := io.ReadFull(f, data)
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, translateError(err)
		}
		data = data[:n]
	} else {
		data, err = io.ReadAll(f)
		if err != nil {
			return nil, translateError(err)
		}
	}
	return data, nil
}

// GetAll reads a whole file.
func (b *Backend) GetAll(ctx context.Context, addr rfs.Addressing) ([]byte, error) {
	return b.GetRange(ctx, addr, 0, 0)
}

// Put writes a whole file, replacing any previous content.
func (b *Backend) Put(ctx context.Context, addr rfs.Addressing, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := b.fullPath(addr)
	if dir := path.Dir(p); dir != "." {
		if err := b.sftpClient.MkdirAll(dir); err != nil {
			return translateError(err)
		}
	}

	f, err := b.sftpClient.Create(p)
	if err != nil {
		return translateError(err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return translateError(err)
	}
	return translateError(f.Close())
}

// MakeLocator creates a top-level directory.
func (b *Backend) MakeLocator(ctx context.Context, locator string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translateError(b.sftpClient.MkdirAll(path.Join(b.config.Root, locator)))
}

// MakeObject creates a directory for marker keys and an empty file
// otherwise.
func (b *Backend) MakeObject(ctx context.Context, addr rfs.Addressing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if strings.HasSuffix(addr.Key, "/") {
		return translateError(b.sftpClient.MkdirAll(b.fullPath(addr)))
	}
	return b.Put(ctx, addr, nil)
}

// Remove deletes a file, or the directory itself when the addressing has
// no key.
func (b *Backend) Remove(ctx context.Context, addr rfs.Addressing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p := b.fullPath(addr)
	info, err := b.sftpClient.Stat(p)
	if err != nil {
		return translateError(err)
	}
	if info.IsDir() {
		return translateError(b.sftpClient.RemoveDirectory(p))
	}
	return translateError(b.sftpClient.Remove(p))
}

// Copy duplicates a file by streaming it through the session.
func (b *Backend) Copy(ctx context.Context, src, dst rfs.Addressing) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	srcFile, err := b.sftpClient.Open(b.fullPath(src))
	if err != nil {
		return translateError(err)
	}
	defer srcFile.Close()

	dstFile, err := b.sftpClient.Create(b.fullPath(dst))
	if err != nil {
		return translateError(err)
	}

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		dstFile.Close()
		return translateError(err)
	}
	return translateError(dstFile.Close())
}

// translateError converts SFTP errors to rfs errors.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	if os.IsNotExist(err) {
		return rfs.ErrNotFound
	}
	if os.IsPermission(err) {
		return rfs.ErrPermissionDenied
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		if os.IsNotExist(pathErr.Err) {
			return rfs.ErrNotFound
		}
		if os.IsPermission(pathErr.Err) {
			return rfs.ErrPermissionDenied
		}
	}

	return fmt.Errorf("sftp: %w", err)
}
