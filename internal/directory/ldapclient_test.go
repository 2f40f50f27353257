package directory

import (
	"context"
	"testing"
	"time"

	"github.com/sonroyaalmerol/esn-calendar/internal/cache"
	"github.com/sonroyaalmerol/esn-calendar/internal/config"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserFilter(t *testing.T) {
	assert.Equal(t, "(|(uid=jdoe)(mail=jdoe))", userFilter("(|(uid=%s)(mail=%s))", "jdoe"))
	assert.Equal(t, `(uid=a\2ab)`, userFilter("(uid=%s)", "a*b"))
	assert.Equal(t, "(objectClass=person)", userFilter("(objectClass=person)", "x"))
}

func TestUserFromEntry(t *testing.T) {
	cfg := config.LDAPConfig{TokenUserAttr: "uid"}

	e := ldap.NewEntry("uid=jdoe,ou=users,dc=example,dc=org", map[string][]string{
		"uid":  {"jdoe"},
		"cn":   {"John Doe"},
		"mail": {"jdoe@example.org"},
	})
	u := userFromEntry(cfg, e)
	assert.Equal(t, "jdoe", u.UID)
	assert.Equal(t, "John Doe", u.DisplayName)
	assert.Equal(t, "jdoe@example.org", u.Mail)
	assert.Equal(t, "uid=jdoe,ou=users,dc=example,dc=org", u.DN)

	e = ldap.NewEntry("cn=svc", map[string][]string{
		"displayName": {"Service"},
		"mail":        {"svc@example.org"},
	})
	u = userFromEntry(cfg, e)
	assert.Equal(t, "svc@example.org", u.UID)
	assert.Equal(t, "Service", u.DisplayName)
}

func TestUserAttrList(t *testing.T) {
	assert.Equal(t, []string{"dn", "displayName", "mail", "uid", "cn"}, userAttrList(config.LDAPConfig{TokenUserAttr: "uid"}))
	assert.Contains(t, userAttrList(config.LDAPConfig{TokenUserAttr: "employeeNumber"}), "employeeNumber")
	assert.Len(t, userAttrList(config.LDAPConfig{TokenUserAttr: "(*)"}), 5)
}

func TestDialLDAPAuto_Invalid(t *testing.T) {
	_, err := dialLDAPAuto(config.LDAPConfig{})
	assert.Error(t, err)

	_, err = dialLDAPAuto(config.LDAPConfig{URL: "http://ldap.example.org"})
	assert.Error(t, err)
}

func TestTLSConfigFor(t *testing.T) {
	assert.Equal(t, "ldap.example.org", tlsConfigFor("ldap.example.org:636", false).ServerName)
	assert.Equal(t, "ldap.example.org", tlsConfigFor("ldap.example.org/", false).ServerName)
	assert.True(t, tlsConfigFor("x", true).InsecureSkipVerify)
}

func TestLookupUser_Cached(t *testing.T) {
	l := &LDAPClient{
		cfg:    config.LDAPConfig{CacheTTL: time.Minute},
		logger: zerolog.Nop(),
		users:  cache.New[string, *User](time.Minute),
	}
	want := &User{UID: "jdoe", Mail: "jdoe@example.org"}
	l.users.Set("jdoe", want, time.Now().Add(time.Minute))

	got, err := l.LookupUser(context.Background(), "jdoe")
	require.NoError(t, err)
	assert.Same(t, want, got)

	_, err = l.LookupUser(context.Background(), "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLDAPClient_Purge(t *testing.T) {
	l := &LDAPClient{
		cfg:    config.LDAPConfig{CacheTTL: time.Minute},
		logger: zerolog.Nop(),
		users:  cache.New[string, *User](time.Minute),
	}
	l.users.Set("old", &User{UID: "old"}, time.Now().Add(-time.Second))
	l.users.Set("jdoe", &User{UID: "jdoe"}, time.Now().Add(time.Minute))

	l.Purge()

	_, ok := l.users.Get("jdoe")
	assert.True(t, ok)
	_, ok = l.users.Get("old")
	assert.False(t, ok)
}
