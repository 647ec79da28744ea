package directory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/rs/zerolog"
)

// gateway implements the Gateway interface over a single logical
// connection. The paged-results cursor is connection-scoped, so all
// operations are serialized through the connection mutex; callers that
// need parallelism run one gateway per worker.
type gateway struct {
	cfg *Config
	log zerolog.Logger

	mu   sync.Mutex
	conn *ldap.Conn

	// Resolved default naming context, cached after first discovery.
	baseDN string

	passwordHook PasswordHook
}

// Option configures a Gateway at construction time.
type Option func(*gateway)

// WithLogger attaches a structured logger to the gateway.
func WithLogger(log zerolog.Logger) Option {
	return func(g *gateway) {
		g.log = log
	}
}

// NewGateway creates a gateway for the given connection configuration.
// No connection is established until the first operation or an
// explicit Bind.
func NewGateway(cfg *Config, opts ...Option) (Gateway, error) {
	if cfg == nil {
		return nil, NewConfigError("new_gateway", "connection configuration is required")
	}
	if len(cfg.URLs) == 0 {
		return nil, NewConfigError("new_gateway", "at least one directory URL is required")
	}

	g := &gateway{
		cfg:    cfg,
		log:    zerolog.Nop(),
		baseDN: cfg.BaseDN,
	}
	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

// dial opens a connection to the first reachable configured URL.
func (g *gateway) dial(ctx context.Context) (*ldap.Conn, error) {
	var lastErr error

	for _, url := range g.cfg.URLs {
		start := time.Now()

		var opts []ldap.DialOpt
		if g.cfg.TLSConfig != nil {
			opts = append(opts, ldap.DialWithTLSConfig(g.cfg.TLSConfig))
		}

		conn, err := ldap.DialURL(url, opts...)
		if err != nil {
			g.log.Warn().Str("url", url).Err(err).Msg("directory dial failed")
			lastErr = err
			continue
		}

		conn.SetTimeout(g.cfg.Timeout)

		if g.cfg.StartTLS {
			if err := conn.StartTLS(g.cfg.TLSConfig); err != nil {
				conn.Close()
				lastErr = err
				continue
			}
		}

		g.log.Debug().
			Str("url", url).
			Dur("duration", time.Since(start)).
			Msg("directory connection established")

		return conn, nil
	}

	return nil, NewProtocolError("dial", fmt.Errorf("no directory server reachable: %w", lastErr))
}

// bind authenticates the service account on conn.
func (g *gateway) bind(ctx context.Context, conn *ldap.Conn) error {
	if g.cfg.KerberosRealm != "" {
		return g.kerberosBind(ctx, conn)
	}

	if g.cfg.Username == "" {
		return NewConfigError("bind", "service account username is required")
	}

	if err := conn.Bind(g.cfg.Username, g.cfg.Password); err != nil {
		bindFailures.Inc()
		return NewProtocolError("bind", err)
	}

	return nil
}

// ensure returns the live connection, dialing and binding on demand.
// Callers must hold g.mu.
func (g *gateway) ensure(ctx context.Context) (*ldap.Conn, error) {
	if g.conn != nil && !g.conn.IsClosing() {
		return g.conn, nil
	}

	conn, err := g.dial(ctx)
	if err != nil {
		return nil, err
	}

	if err := g.bind(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	g.conn = conn
	return conn, nil
}

// reset discards the current connection after a network failure.
// Callers must hold g.mu.
func (g *gateway) reset() {
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
}

// withConn runs op against the live connection, redialing and retrying
// with exponential backoff on retryable failures.
func (g *gateway) withConn(ctx context.Context, op func(conn *ldap.Conn) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	backoff := g.cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		conn, err := g.ensure(ctx)
		if err != nil {
			lastErr = err
		} else {
			err = op(conn)
			if err == nil {
				return nil
			}
			lastErr = err
			if ldap.IsErrorWithCode(err, ldap.ErrorNetwork) {
				g.reset()
			}
		}

		if !isRetryable(lastErr) || attempt == g.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, g.cfg.MaxBackoff)
	}

	return lastErr
}

// Bind establishes the service-account session eagerly.
func (g *gateway) Bind(ctx context.Context) error {
	return g.withConn(ctx, func(*ldap.Conn) error { return nil })
}

// Close tears down the connection.
func (g *gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reset()
	return nil
}

// Search performs a single bounded search and normalizes the result.
func (g *gateway) Search(ctx context.Context, req *SearchRequest) ([]Record, error) {
	if req == nil {
		return nil, NewValidationError("search", "search request cannot be nil")
	}

	var controls []ldap.Control
	if len(req.Sort) > 0 {
		keys := make([]*ldap.SortKey, 0, len(req.Sort))
		for _, k := range req.Sort {
			keys = append(keys, &ldap.SortKey{AttributeType: k.Attribute, Reverse: k.Reverse})
		}
		sortControl := ldap.NewControlServerSideSortingWithSortKeys(keys)
		controls = append(controls, sortControl)
	}

	ldapReq := ldap.NewSearchRequest(
		req.BaseDN,
		int(req.Scope),
		ldap.NeverDerefAliases,
		req.SizeLimit,
		int(g.cfg.Timeout.Seconds()),
		false,
		req.Filter,
		req.Attributes,
		controls,
	)

	var result *ldap.SearchResult
	err := g.withConn(ctx, func(conn *ldap.Conn) error {
		var searchErr error
		result, searchErr = conn.Search(ldapReq)
		return searchErr
	})

	searchesTotal.WithLabelValues("search").Inc()

	if err != nil {
		g.log.Debug().
			Str("base_dn", req.BaseDN).
			Str("filter", req.Filter).
			Err(err).
			Msg("directory search failed")
		return nil, NewProtocolError("search", err)
	}

	return NormalizeEntries(result.Entries), nil
}

// SearchPaged retrieves the full result set for filter below baseDN,
// 500 records per page. The pager is handed back to the server default
// before returning: an in-flight cursor is explicitly abandoned with a
// zero-size page, success or failure. Skipping that reset leaves the
// connection's paging state dangling and silently corrupts subsequent
// unpaged searches.
func (g *gateway) SearchPaged(ctx context.Context, filter, baseDN string, attributes []string) ([]Record, error) {
	start := time.Now()

	var entries []*ldap.Entry
	var pages int

	err := g.withConn(ctx, func(conn *ldap.Conn) error {
		var err error
		entries, pages, err = g.searchAllPages(ctx, conn, baseDN, filter, attributes)
		return err
	})

	searchesTotal.WithLabelValues("paged").Inc()

	if err != nil {
		return nil, NewProtocolError("search_paged", err)
	}

	g.log.Debug().
		Str("base_dn", baseDN).
		Str("filter", filter).
		Int("pages", pages).
		Int("entries", len(entries)).
		Dur("duration", time.Since(start)).
		Msg("paged search completed")

	return NormalizeEntries(entries), nil
}

// searcher is the slice of *ldap.Conn the pagination loop drives.
type searcher interface {
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
}

// searchAllPages drives one paged search to completion. All pagination
// state is local to the call: entries and the paging control start
// fresh on every attempt, so a connection retry can never inherit the
// partial pages or the mutated control of a failed attempt.
func (g *gateway) searchAllPages(ctx context.Context, s searcher, baseDN, filter string, attributes []string) ([]*ldap.Entry, int, error) {
	paging := ldap.NewControlPaging(pageSize)
	defer g.abandonPager(s, baseDN, filter, paging)

	var entries []*ldap.Entry
	pages := 0

	for {
		select {
		case <-ctx.Done():
			return nil, pages, ctx.Err()
		default:
		}

		ldapReq := ldap.NewSearchRequest(
			baseDN,
			int(ScopeSubtree),
			ldap.NeverDerefAliases,
			0,
			int(g.cfg.Timeout.Seconds()),
			false,
			filter,
			attributes,
			[]ldap.Control{paging},
		)

		result, err := s.Search(ldapReq)
		if err != nil {
			return nil, pages, err
		}

		pages++
		pagesTotal.Inc()
		entries = append(entries, result.Entries...)

		responseControl, ok := ldap.FindControl(result.Controls, ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(responseControl.Cookie) == 0 {
			paging.SetCookie(nil)
			return entries, pages, nil
		}
		paging.SetCookie(responseControl.Cookie)
	}
}

// abandonPager releases a still-open paged cursor by requesting a
// zero-size page with the current cookie, restoring the connection's
// server-default paging behavior.
func (g *gateway) abandonPager(s searcher, baseDN, filter string, paging *ldap.ControlPaging) {
	if len(paging.Cookie) == 0 {
		return
	}

	paging.PagingSize = 0
	ldapReq := ldap.NewSearchRequest(
		baseDN,
		int(ScopeSubtree),
		ldap.NeverDerefAliases,
		0, 0, false,
		filter,
		nil,
		[]ldap.Control{paging},
	)

	if _, err := s.Search(ldapReq); err != nil {
		g.log.Warn().Err(err).Msg("failed to abandon paged cursor")
	}
}

// Add creates a new directory entry.
func (g *gateway) Add(ctx context.Context, dn string, attributes map[string][]string) error {
	if dn == "" {
		return NewValidationError("add", "DN cannot be empty")
	}

	ldapReq := ldap.NewAddRequest(dn, nil)
	for attr, values := range attributes {
		ldapReq.Attribute(attr, values)
	}

	modifyTotal.WithLabelValues("add").Inc()

	err := g.withConn(ctx, func(conn *ldap.Conn) error {
		return conn.Add(ldapReq)
	})
	if err != nil {
		return NewProtocolError("add", err)
	}

	return nil
}

// Update replaces the given attributes on an existing entry.
func (g *gateway) Update(ctx context.Context, dn string, attributes map[string][]string) error {
	if dn == "" {
		return NewValidationError("update", "DN cannot be empty")
	}

	ldapReq := ldap.NewModifyRequest(dn, nil)
	for attr, values := range attributes {
		if len(values) == 0 {
			ldapReq.Delete(attr, nil)
			continue
		}
		ldapReq.Replace(attr, values)
	}

	modifyTotal.WithLabelValues("update").Inc()

	err := g.withConn(ctx, func(conn *ldap.Conn) error {
		return conn.Modify(ldapReq)
	})
	if err != nil {
		return NewProtocolError("update", err)
	}

	return nil
}

// ModifyBatch applies an ordered sequence of modifications as one
// atomic modify request; the server applies all operations or none.
func (g *gateway) ModifyBatch(ctx context.Context, dn string, ops []BatchOp) error {
	if dn == "" {
		return NewValidationError("modify_batch", "DN cannot be empty")
	}
	if len(ops) == 0 {
		return nil
	}

	ldapReq := ldap.NewModifyRequest(dn, nil)
	for _, op := range ops {
		switch op.Type {
		case BatchAdd:
			ldapReq.Add(op.Attribute, op.Values)
		case BatchDelete:
			ldapReq.Delete(op.Attribute, op.Values)
		case BatchReplace:
			ldapReq.Replace(op.Attribute, op.Values)
		}
	}

	modifyTotal.WithLabelValues("batch").Inc()

	err := g.withConn(ctx, func(conn *ldap.Conn) error {
		return conn.Modify(ldapReq)
	})
	if err != nil {
		return NewProtocolError("modify_batch", err)
	}

	return nil
}

// Delete removes an entry. With recursive set, children are removed
// depth-first before the entry itself.
func (g *gateway) Delete(ctx context.Context, dn string, recursive bool) error {
	if dn == "" {
		return NewValidationError("delete", "DN cannot be empty")
	}

	if recursive {
		children, err := g.Search(ctx, &SearchRequest{
			BaseDN:     dn,
			Scope:      ScopeOneLevel,
			Filter:     "(objectClass=*)",
			Attributes: []string{"dn"},
		})
		if err != nil {
			return err
		}
		for _, child := range children {
			if err := g.Delete(ctx, child.DN(), true); err != nil {
				return err
			}
		}
	}

	modifyTotal.WithLabelValues("delete").Inc()

	err := g.withConn(ctx, func(conn *ldap.Conn) error {
		return conn.Del(ldap.NewDelRequest(dn, nil))
	})
	if err != nil {
		return NewProtocolError("delete", err)
	}

	return nil
}

// Move relocates an entry to the position described by toDN. Unless
// recursive is set, moving an entry that has children is refused.
func (g *gateway) Move(ctx context.Context, fromDN, toDN string, recursive bool) error {
	if fromDN == "" || toDN == "" {
		return NewValidationError("move", "source and target DN are required")
	}

	parsed, err := ldap.ParseDN(toDN)
	if err != nil || len(parsed.RDNs) == 0 {
		return NewValidationError("move", "invalid target DN %q", toDN)
	}

	newRDN := parsed.RDNs[0].String()
	var newSuperior string
	if len(parsed.RDNs) > 1 {
		newSuperior = (&ldap.DN{RDNs: parsed.RDNs[1:]}).String()
	}

	if !recursive {
		children, err := g.Search(ctx, &SearchRequest{
			BaseDN:     fromDN,
			Scope:      ScopeOneLevel,
			Filter:     "(objectClass=*)",
			Attributes: []string{"dn"},
			SizeLimit:  1,
		})
		if err != nil && !IsNotFound(err) {
			return err
		}
		if len(children) > 0 {
			return NewValidationError("move", "entry %s has children; use recursive move", fromDN)
		}
	}

	modifyTotal.WithLabelValues("move").Inc()

	err = g.withConn(ctx, func(conn *ldap.Conn) error {
		return conn.ModifyDN(ldap.NewModifyDNRequest(fromDN, newRDN, true, newSuperior))
	})
	if err != nil {
		return NewProtocolError("move", err)
	}

	return nil
}

// DefaultBaseDN returns the configured base DN, discovering the
// server's defaultNamingContext from the root DSE when unset.
func (g *gateway) DefaultBaseDN(ctx context.Context) (string, error) {
	g.mu.Lock()
	cached := g.baseDN
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	records, err := g.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBase,
		Filter:     "(objectClass=*)",
		Attributes: []string{"defaultNamingContext"},
		SizeLimit:  1,
	})
	if err != nil {
		return "", err
	}

	if len(records) == 0 {
		return "", NewDataError("default_base_dn", "no root DSE found")
	}

	base := records[0].Str("defaultnamingcontext")
	if base == "" {
		return "", NewDataError("default_base_dn", "root DSE has no defaultNamingContext")
	}

	g.mu.Lock()
	g.baseDN = base
	g.mu.Unlock()
	return base, nil
}
