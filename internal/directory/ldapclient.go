package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/cache"
	"github.com/sonroyaalmerol/esn-calendar/internal/config"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

var ErrUserNotFound = errors.New("user not found")

type LDAPClient struct {
	cfg    config.LDAPConfig
	logger zerolog.Logger

	mu   sync.Mutex
	conn *ldap.Conn

	users *cache.Cache[string, *User]
}

func NewLDAPClient(cfg config.LDAPConfig, logger zerolog.Logger) (*LDAPClient, error) {
	l := &LDAPClient{
		cfg:    cfg,
		logger: logger,
		users:  cache.New[string, *User](cfg.CacheTTL),
	}
	conn, err := l.connect()
	if err != nil {
		return nil, err
	}
	l.conn = conn
	return l, nil
}

func (l *LDAPClient) connect() (*ldap.Conn, error) {
	conn, err := dialLDAPAuto(l.cfg)
	if err != nil {
		l.logger.Error().Err(err).Str("url", l.cfg.URL).Msg("failed to dial LDAP")
		return nil, err
	}
	if l.cfg.Timeout > 0 {
		conn.SetTimeout(l.cfg.Timeout)
	}
	if l.cfg.BindDN != "" {
		if err := conn.Bind(l.cfg.BindDN, l.cfg.BindPassword); err != nil {
			l.logger.Error().Err(err).Str("bind_dn", l.cfg.BindDN).Msg("initial bind failed")
			conn.Close()
			return nil, err
		}
	}
	return conn, nil
}

func (l *LDAPClient) Purge() { l.users.Purge() }

func (l *LDAPClient) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// LookupUser finds a user by the configured user filter (uid or mail by
// default). Results are cached for the configured TTL.
func (l *LDAPClient) LookupUser(ctx context.Context, uid string) (*User, error) {
	if uid == "" {
		return nil, ErrUserNotFound
	}
	if u, ok := l.users.Get(uid); ok {
		return u, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchReq := ldap.NewSearchRequest(
		l.cfg.UserBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, int(l.cfg.Timeout.Seconds()), false,
		userFilter(l.cfg.UserFilter, uid),
		userAttrList(l.cfg),
		nil,
	)

	res, err := l.search(searchReq)
	if err != nil {
		l.logger.Error().Err(err).
			Str("user_base_dn", l.cfg.UserBaseDN).
			Str("uid", uid).
			Msg("LDAP search failed in LookupUser")
		return nil, fmt.Errorf("ldap search: %w", err)
	}
	if len(res.Entries) == 0 {
		l.logger.Debug().Str("uid", uid).Msg("user not found in LookupUser")
		return nil, ErrUserNotFound
	}

	u := userFromEntry(l.cfg, res.Entries[0])
	l.users.Set(uid, u, time.Now().Add(l.users.TTL()))
	return u, nil
}

// search runs a request on the shared connection, redialing once when the
// connection was closed underneath us.
func (l *LDAPClient) search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil || l.conn.IsClosing() {
		conn, err := l.connect()
		if err != nil {
			return nil, err
		}
		l.conn = conn
	}

	res, err := l.conn.Search(req)
	if err != nil && ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
		l.conn.Close()
		conn, derr := l.connect()
		if derr != nil {
			l.conn = nil
			return nil, err
		}
		l.conn = conn
		res, err = l.conn.Search(req)
	}
	return res, err
}

func userFilter(pattern, value string) string {
	escaped := ldap.EscapeFilter(value)
	n := strings.Count(pattern, "%s")
	args := make([]any, n)
	for i := range args {
		args[i] = escaped
	}
	return fmt.Sprintf(pattern, args...)
}

func userFromEntry(cfg config.LDAPConfig, e *ldap.Entry) *User {
	return &User{
		UID:         firstNonEmpty(e.GetAttributeValue(cfg.TokenUserAttr), e.GetAttributeValue("mail")),
		DN:          e.DN,
		DisplayName: firstNonEmpty(e.GetAttributeValue("displayName"), e.GetAttributeValue("cn")),
		Mail:        e.GetAttributeValue("mail"),
	}
}

func userAttrList(cfg config.LDAPConfig) []string {
	attrs := []string{"dn", "displayName", "mail", "uid", "cn"}
	if attr := safeAttr(cfg.TokenUserAttr); attr != "" && !slices.Contains(attrs, attr) {
		attrs = append(attrs, attr)
	}
	return attrs
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func safeAttr(a string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || r == '-' || r == '_' {
			return r
		}
		return -1
	}, a)
}

func dialLDAPAuto(cfg config.LDAPConfig) (*ldap.Conn, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("LDAP URL is empty")
	}

	isLDAPS := strings.HasPrefix(strings.ToLower(u), "ldaps://")
	isLDAP := strings.HasPrefix(strings.ToLower(u), "ldap://")

	if !isLDAP && !isLDAPS {
		return nil, errors.New("URL must start with ldap:// or ldaps://")
	}

	if isLDAPS {
		tlsConfig := tlsConfigFor(u[len("ldaps://"):], cfg.InsecureSkipVerify)
		return ldap.DialURL(u, ldap.DialWithTLSConfig(tlsConfig))
	}

	conn, err := ldap.DialURL(u)
	if err != nil {
		return nil, err
	}

	if cfg.RequireTLS {
		if err := conn.StartTLS(tlsConfigFor(u[len("ldap://"):], cfg.InsecureSkipVerify)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("StartTLS failed: %w", err)
		}
	}

	return conn, nil
}

func tlsConfigFor(hostPort string, insecure bool) *tls.Config {
	hostPort = strings.TrimSuffix(hostPort, "/")
	tlsConfig := &tls.Config{InsecureSkipVerify: insecure}
	if host, _, err := net.SplitHostPort(hostPort); err == nil && host != "" {
		tlsConfig.ServerName = host
	} else {
		tlsConfig.ServerName = hostPort
	}
	return tlsConfig
}
