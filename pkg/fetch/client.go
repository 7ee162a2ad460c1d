// Package fetch downloads and unpacks the external tool packages a
// flashing run needs.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// leveledLogger routes retryablehttp messages to logrus.
type leveledLogger struct {
	log logrus.FieldLogger
}

func (l leveledLogger) with(keysAndValues []interface{}) logrus.FieldLogger {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return l.log.WithFields(fields)
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Error(msg)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Debug(msg)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.with(keysAndValues).Warn(msg)
}

// NewRetryingDoer returns an HTTP client retrying failed requests with an
// exponential backoff between waitMin and waitMax.
func NewRetryingDoer(retries int, waitMin, waitMax time.Duration, log logrus.FieldLogger) Doer {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = waitMin
	rc.RetryWaitMax = waitMax
	rc.Logger = leveledLogger{log: log}
	return rc.StandardClient()
}

type Client struct {
	doer Doer
	log  logrus.FieldLogger
}

// NewClient returns a client using doer, or a retrying HTTP client if doer
// is nil.
func NewClient(doer Doer, log logrus.FieldLogger) *Client {
	if doer == nil {
		doer = NewRetryingDoer(3, time.Second, 10*time.Second, log)
	}
	return &Client{
		doer: doer,
		log:  log,
	}
}

func validateURL(u string) (*url.URL, error) {
	if u == "" {
		return nil, fmt.Errorf("download url is required")
	}
	parsedURL, err := url.ParseRequestURI(u)
	if err != nil {
		return nil, fmt.Errorf("invalid download url %s", u)
	}
	return parsedURL, nil
}

func (c *Client) fetch(ctx context.Context, u *url.URL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, u.String())
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// Download fetches the first of urls that can be downloaded into dest and
// returns it.
func (c *Client) Download(ctx context.Context, urls []string, dest string) (string, error) {
	if len(urls) == 0 {
		return "", fmt.Errorf("no download urls for %s", filepath.Base(dest))
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}

	var errs []error
	for _, raw := range urls {
		u, err := validateURL(raw)
		if err == nil {
			c.log.Infof("downloading %s", u)
			err = c.fetch(ctx, u, dest)
		}
		if err == nil {
			return raw, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		c.log.Warnf("download failed: %v", err)
		errs = append(errs, err)
	}
	return "", fmt.Errorf("cannot download %s: %w", filepath.Base(dest), errors.Join(errs...))
}
