package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"snaptosize/config"
)

// SFTP keeps blobs on a remote host. Each operation opens its own session;
// downloads are proxied by the edge.
type SFTP struct {
	cfg    config.SFTPConfig
	signer EdgeSigner
}

func NewSFTP(cfg config.SFTPConfig, signer EdgeSigner) *SFTP {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Root == "" {
		cfg.Root = "."
	}
	return &SFTP{cfg: cfg, signer: signer}
}

func (s *SFTP) clientConfig() (*ssh.ClientConfig, error) {
	var auths []ssh.AuthMethod
	if s.cfg.PrivateKey != "" {
		// try to decode as base64, fall back to raw
		keyBytes, err := base64.StdEncoding.DecodeString(s.cfg.PrivateKey)
		if err != nil {
			keyBytes = []byte(s.cfg.PrivateKey)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auths = append(auths, ssh.PublicKeys(signer))
	} else if s.cfg.Password != "" {
		auths = append(auths, ssh.Password(s.cfg.Password))
	} else {
		return nil, errors.New("no auth method provided; set SFTP_PASSWORD or SFTP_PRIVATE_KEY")
	}

	return &ssh.ClientConfig{
		User:            s.cfg.User,
		Auth:            auths,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	}, nil
}

// session is an open ssh connection with its sftp client.
type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *session) Close() error {
	err := s.sftp.Close()
	s.ssh.Close()
	return err
}

func (s *SFTP) dial(ctx context.Context) (*session, error) {
	if s.cfg.Host == "" || s.cfg.User == "" {
		return nil, errors.New("missing sftp host or user")
	}
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	// Dial respecting context
	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}

	clientConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	sshClient := ssh.NewClient(clientConn, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, fmt.Errorf("create sftp client: %w", err)
	}
	return &session{ssh: sshClient, sftp: sftpClient}, nil
}

func (s *SFTP) remotePath(key string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return path.Join(s.cfg.Root, key), nil
}

func (s *SFTP) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	remotePath, err := s.remotePath(key)
	if err != nil {
		return err
	}
	sess, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	dir := path.Dir(remotePath)
	if err := mkdirAllSFTP(sess.sftp, dir); err != nil {
		return fmt.Errorf("ensure remote dir %s: %w", dir, err)
	}

	tmpPath := remotePath + ".part"
	f, err := sess.sftp.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create remote file %s: %w", tmpPath, err)
	}
	if _, err := io.Copy(f, &ctxReader{ctx: ctx, r: r}); err != nil {
		f.Close()
		sess.sftp.Remove(tmpPath)
		return fmt.Errorf("copy to remote file %s: %w", tmpPath, err)
	}
	if err := f.Close(); err != nil {
		sess.sftp.Remove(tmpPath)
		return fmt.Errorf("close remote file %s: %w", tmpPath, err)
	}
	if err := sess.sftp.PosixRename(tmpPath, remotePath); err != nil {
		sess.sftp.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", tmpPath, err)
	}

	log.Infof("Successfully uploaded '%s' to %s", remotePath, s.cfg.Host)
	return nil
}

// remoteFile closes its session along with the file.
type remoteFile struct {
	*sftp.File
	sess *session
}

func (f *remoteFile) Close() error {
	err := f.File.Close()
	f.sess.Close()
	return err
}

func (s *SFTP) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	remotePath, err := s.remotePath(key)
	if err != nil {
		return nil, err
	}
	sess, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	f, err := sess.sftp.Open(remotePath)
	if err != nil {
		sess.Close()
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open remote file %s: %w", remotePath, err)
	}
	return &remoteFile{File: f, sess: sess}, nil
}

func (s *SFTP) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	return s.signer.URL(key, ttl)
}

// mkdirAllSFTP mimics os.MkdirAll for an SFTP server by creating each segment of the path.
func mkdirAllSFTP(client *sftp.Client, dir string) error {
	if dir == "" || dir == "." || dir == "/" {
		return nil
	}

	parts := strings.Split(dir, "/")
	cur := ""
	if strings.HasPrefix(dir, "/") {
		cur = "/"
	}

	for _, p := range parts {
		if p == "" {
			continue
		}
		cur = path.Join(cur, p)
		if _, err := client.Stat(cur); err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("stat %s: %w", cur, err)
			}
			if err := client.Mkdir(cur); err != nil {
				return fmt.Errorf("mkdir %s: %w", cur, err)
			}
		}
	}
	return nil
}
