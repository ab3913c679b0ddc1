package probe

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sitewarden/sitewarden/internal/store"
)

const (
	maxRedirects = 5
	probeTimeout = 10 * time.Second
	userAgent    = "SiteWarden/1.0"
)

// Prober executes a single site check: one GET with manual redirect
// following, a timeout budget shared across all hops, and best-effort TLS
// certificate capture.
type Prober struct {
	client *http.Client
	logger *zap.Logger
	now    func() time.Time
}

func New(logger *zap.Logger) *Prober {
	return &Prober{
		client: &http.Client{
			Transport: &http.Transport{
				// Verification is redone by hand so sites with broken
				// certificates still produce a response and metadata.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
		now:    time.Now,
	}
}

// Probe runs one check against the site. It never returns an error: every
// outcome, including transport failures and redirect pathologies, is encoded
// in the returned check.
func (p *Prober) Probe(ctx context.Context, site *store.Site) *store.Check {
	check := &store.Check{
		ID:            uuid.New().String(),
		SiteID:        site.ID,
		RedirectChain: store.RedirectChain{},
		CheckedAt:     p.now(),
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	current, err := url.Parse(site.URL)
	if err != nil {
		return p.fail(check, CodeRequest, fmt.Sprintf("invalid url %q: %v", site.URL, err))
	}

	start := time.Now()
	visited := map[string]bool{current.String(): true}

	for {
		if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
			return p.fail(check, CodeTimeout, fmt.Sprintf("timeout budget exhausted after %d redirects", len(check.RedirectChain)))
		}

		resp, err := p.fetch(ctx, current.String())
		if err != nil {
			return p.fail(check, classify(err), err.Error())
		}

		location := resp.Header.Get("Location")
		if resp.StatusCode < 300 || resp.StatusCode >= 400 || location == "" {
			return p.finalize(check, resp, current, start)
		}

		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		check.RedirectChain = append(check.RedirectChain, store.RedirectHop{
			URL:        current.String(),
			StatusCode: resp.StatusCode,
		})

		next, err := current.Parse(location)
		if err != nil {
			return p.fail(check, CodeRequest, fmt.Sprintf("invalid redirect location %q: %v", location, err))
		}

		// Loop detection runs before the hop cap: a revisit at the cap
		// boundary is reported as a loop, not as too many redirects.
		if visited[next.String()] {
			return p.fail(check, CodeRedirectLoop, fmt.Sprintf("redirect loop detected at %s", next))
		}
		if len(check.RedirectChain) > maxRedirects {
			return p.fail(check, CodeTooManyRedirects, fmt.Sprintf("stopped after %d redirects", maxRedirects))
		}

		visited[next.String()] = true
		current = next
	}
}

func (p *Prober) fetch(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	return p.client.Do(req)
}

func (p *Prober) finalize(check *store.Check, resp *http.Response, final *url.URL, start time.Time) *store.Check {
	defer resp.Body.Close()

	elapsed := int(time.Since(start).Milliseconds())
	check.ResponseTimeMs = &elapsed

	status := resp.StatusCode
	check.StatusCode = &status
	check.IsUp = status < 500
	check.Headers = snapshotHeaders(resp.Header)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.logger.Debug("Body read failed",
			zap.String("site_id", check.SiteID),
			zap.Error(err))
	} else {
		sum := sha256.Sum256(body)
		hash := hex.EncodeToString(sum[:])
		check.BodyHash = &hash
	}

	if resp.TLS != nil && len(resp.TLS.PeerCertificates) > 0 {
		p.captureTLS(check, resp.TLS, final.Hostname())
	}

	return check
}

func (p *Prober) fail(check *store.Check, code, message string) *store.Check {
	check.IsUp = false
	check.ErrorCode = &code
	check.ErrorMessage = &message

	p.logger.Debug("Probe failed",
		zap.String("site_id", check.SiteID),
		zap.String("code", code),
		zap.String("error", message))

	return check
}

func (p *Prober) captureTLS(check *store.Check, state *tls.ConnectionState, host string) {
	cert := state.PeerCertificates[0]

	issuer := cert.Issuer.String()
	subject := cert.Subject.String()
	serial := cert.SerialNumber.String()
	sum := sha256.Sum256(cert.Raw)
	fingerprint := hex.EncodeToString(sum[:])
	issued := cert.NotBefore
	expires := cert.NotAfter
	valid := p.verifyCert(state, host)

	check.SSLIssuer = &issuer
	check.SSLSubject = &subject
	check.SSLSerial = &serial
	check.SSLFingerprint = &fingerprint
	check.SSLIssuedAt = &issued
	check.SSLExpiresAt = &expires
	check.SSLValid = &valid
}

// verifyCert recomputes what the skipped handshake verification would have:
// validity window, hostname match, and chain of trust.
func (p *Prober) verifyCert(state *tls.ConnectionState, host string) bool {
	cert := state.PeerCertificates[0]

	now := p.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return false
	}
	if err := cert.VerifyHostname(host); err != nil {
		return false
	}

	intermediates := x509.NewCertPool()
	for _, ic := range state.PeerCertificates[1:] {
		intermediates.AddCert(ic)
	}
	_, err := cert.Verify(x509.VerifyOptions{
		DNSName:       host,
		Intermediates: intermediates,
		CurrentTime:   now,
	})
	return err == nil
}

// snapshotHeaders lowers header names and joins repeated values with ", " so
// snapshots from different checks compare bytewise.
func snapshotHeaders(h http.Header) store.HeaderMap {
	snap := make(store.HeaderMap, len(h))
	for name, values := range h {
		snap[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return snap
}
