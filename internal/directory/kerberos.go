package directory

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

// kerberosBind authenticates the service account via GSSAPI.
func (g *gateway) kerberosBind(ctx context.Context, conn *ldap.Conn) error {
	client, err := g.gssapiClient()
	if err != nil {
		return NewConfigError("kerberos_bind", "%v", err)
	}
	defer func() {
		_ = client.DeleteSecContext()
	}()

	spn, err := g.servicePrincipal()
	if err != nil {
		return NewConfigError("kerberos_bind", "%v", err)
	}

	if err := conn.GSSAPIBind(client, spn, ""); err != nil {
		bindFailures.Inc()
		return NewProtocolError("kerberos_bind", err)
	}

	return nil
}

// gssapiClient builds a Kerberos client from keytab or password
// credentials.
func (g *gateway) gssapiClient() (ldap.GSSAPIClient, error) {
	krb5conf := g.cfg.KerberosConfig
	if krb5conf == "" {
		krb5conf = "/etc/krb5.conf"
	}
	if _, err := os.Stat(krb5conf); err != nil {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", krb5conf)
	}

	if g.cfg.KerberosKeytab != "" {
		return gssapi.NewClientWithKeytab(
			g.cfg.Username, g.cfg.KerberosRealm, g.cfg.KerberosKeytab, krb5conf,
			krb5client.DisablePAFXFAST(true),
		)
	}

	if g.cfg.Username != "" && g.cfg.Password != "" {
		return gssapi.NewClientWithPassword(
			g.cfg.Username, g.cfg.KerberosRealm, g.cfg.Password, krb5conf,
			krb5client.DisablePAFXFAST(true),
		)
	}

	return nil, fmt.Errorf("no keytab or password credentials available for Kerberos authentication")
}

// servicePrincipal derives the ldap/<host> SPN from the first
// configured URL unless an explicit SPN override is set.
func (g *gateway) servicePrincipal() (string, error) {
	if g.cfg.KerberosSPN != "" {
		return g.cfg.KerberosSPN, nil
	}

	parsed, err := url.Parse(g.cfg.URLs[0])
	if err != nil {
		return "", fmt.Errorf("cannot derive SPN from URL %q: %w", g.cfg.URLs[0], err)
	}

	host := parsed.Hostname()
	if host == "" {
		return "", fmt.Errorf("cannot derive SPN from URL %q: no hostname", g.cfg.URLs[0])
	}

	return "ldap/" + strings.ToLower(host), nil
}
