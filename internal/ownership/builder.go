package ownership

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/charity-cli/internal/metrics"
	"github.com/sells-group/charity-cli/internal/model"
	"github.com/sells-group/charity-cli/internal/resolve"
	"github.com/sells-group/charity-cli/internal/store"
	"github.com/sells-group/charity-cli/pkg/charity"
)

// Builder expands resolved records into ownership trees.
type Builder struct {
	store    store.Store
	registry charity.Client
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Builder.
type Option func(*Builder)

// WithMetrics records discovered entities on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// New builds a Builder.
func New(st store.Store, registry charity.Client, opts ...Option) *Builder {
	b := &Builder{
		store:    st,
		registry: registry,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// traversal holds the state of one BuildTree call.
type traversal struct {
	maxDepth   int
	visited    map[string]bool
	entities   map[string]bool
	maxReached int
}

func newTraversal(maxDepth int) *traversal {
	return &traversal{
		maxDepth: maxDepth,
		visited:  make(map[string]bool),
		entities: make(map[string]bool),
	}
}

// visit marks key and reports whether it was new. Empty keys are never
// considered visited.
func (t *traversal) visit(key string) bool {
	if key == "" {
		return true
	}
	if t.visited[key] {
		return false
	}
	t.visited[key] = true
	return true
}

func (t *traversal) seen(key string) bool {
	return key != "" && t.visited[key]
}

func (t *traversal) reach(rec *model.Record, level int) {
	t.entities[rec.ID] = true
	if level > t.maxReached {
		t.maxReached = level
	}
}

func charityKey(n string) string {
	if n == "" {
		return ""
	}
	return "charity:" + n
}

func companyKey(n string) string {
	if n == "" {
		return ""
	}
	return "company:" + n
}

func recordKey(id string) string { return "record:" + id }

// BuildTree expands the record identified by recordID. Down follows
// subsidiaries and trustee-linked charities from the register and
// materializes them; up walks stored edges towards owners. Nothing is
// created deeper than maxDepth.
func (b *Builder) BuildTree(ctx context.Context, recordID string, maxDepth int, dir Direction) (*Tree, error) {
	root, err := b.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	maxDepth = ClampDepth(maxDepth)

	t := newTraversal(maxDepth)
	t.visit(recordKey(root.ID))
	t.visit(charityKey(root.RegistryNumber))
	t.visit(companyKey(root.SecondaryNumber))
	t.reach(root, 0)

	node := newNode(root, "")
	if dir.down() && root.RegistryNumber != "" {
		children, err := b.down(ctx, t, root, 1)
		if err != nil {
			return nil, err
		}
		node.Children = children
	}
	if dir.up() {
		parents, err := b.up(ctx, t, root, 1)
		if err != nil {
			return nil, err
		}
		node.Parents = parents
	}

	zap.L().Debug("ownership: tree built",
		zap.String("record_id", root.ID),
		zap.String("direction", string(dir)),
		zap.Int("entities", len(t.entities)),
		zap.Int("max_depth_reached", t.maxReached),
	)
	return &Tree{
		Root:            node,
		TotalEntities:   len(t.entities),
		MaxDepthReached: t.maxReached,
	}, nil
}

// BuildTreesForBatch builds the downward tree of every resolved root record
// in the batch. A failing root is logged and counted; it does not stop the
// others.
func (b *Builder) BuildTreesForBatch(ctx context.Context, batchID string, maxDepth int) (*BatchResult, error) {
	if _, err := b.store.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}
	roots, err := b.store.ListRecords(ctx, batchID, store.RecordFilter{
		Statuses:  []model.ResolutionStatus{model.StatusMatched, model.StatusConfirmed},
		RootsOnly: true,
	})
	if err != nil {
		return nil, eris.Wrap(err, "ownership: list roots")
	}

	res := &BatchResult{BatchID: batchID}
	for _, r := range roots {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "ownership: batch trees interrupted")
		}
		tree, err := b.BuildTree(ctx, r.ID, maxDepth, DirectionDown)
		if err != nil {
			zap.L().Error("ownership: tree failed", zap.String("record_id", r.ID), zap.Error(err))
			res.Failed++
			continue
		}
		res.TreesBuilt++
		res.TotalRelatedEntities += tree.TotalEntities - 1
	}

	zap.L().Info("ownership: batch trees built",
		zap.String("batch_id", batchID),
		zap.Int("trees", res.TreesBuilt),
		zap.Int("related", res.TotalRelatedEntities),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// down expands parent's subsidiaries and trustee-linked charities at level.
func (b *Builder) down(ctx context.Context, t *traversal, parent *model.Record, level int) ([]*Node, error) {
	if level > t.maxDepth || parent.OwnershipDepth+1 > t.maxDepth {
		return nil, nil
	}

	subs, err := b.registry.GetSubsidiaries(ctx, parent.RegistryNumber)
	if err != nil {
		return nil, eris.Wrapf(err, "ownership: subsidiaries of %s", parent.RegistryNumber)
	}

	var children []*Node
	for _, s := range subs {
		name := strings.TrimSpace(s.SubsidiaryName)
		if name == "" {
			continue
		}
		company := charity.NormalizeNumber(string(s.CompanyNumber))
		registered := charity.NormalizeNumber(string(s.RegisteredCharityNumber))
		if t.seen(companyKey(company)) || t.seen(charityKey(registered)) {
			continue
		}
		t.visit(companyKey(company))
		t.visit(charityKey(registered))

		child, err := b.subsidiaryRecord(ctx, parent, name, company, registered)
		if err != nil {
			return nil, err
		}
		if child.ID == parent.ID || !t.visit(recordKey(child.ID)) {
			continue
		}
		if err := b.link(ctx, parent, child, model.RelationSubsidiary); err != nil {
			return nil, err
		}

		t.reach(child, level)
		node := newNode(child, model.RelationSubsidiary)
		if child.RegistryNumber != "" {
			grandchildren, err := b.down(ctx, t, child, level+1)
			if err != nil {
				return nil, err
			}
			node.Children = grandchildren
		}
		children = append(children, node)
	}

	for _, tr := range parent.EnrichedData.Trustees {
		node, err := b.trusteeCharity(ctx, t, parent, tr.Name, level)
		if err != nil {
			zap.L().Warn("ownership: trustee charity lookup failed",
				zap.String("record_id", parent.ID),
				zap.String("trustee", tr.Name),
				zap.Error(err),
			)
			continue
		}
		if node != nil {
			children = append(children, node)
		}
	}
	return children, nil
}

// up walks stored edges from child to its owners.
func (b *Builder) up(ctx context.Context, t *traversal, child *model.Record, level int) ([]*Node, error) {
	if level > t.maxDepth {
		return nil, nil
	}
	edges, err := b.store.ListEdgesByOwned(ctx, child.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "ownership: owners of %s", child.ID)
	}

	var parents []*Node
	for _, e := range edges {
		owner, err := b.store.GetRecord(ctx, e.OwnerRecordID)
		if err != nil {
			return nil, err
		}
		if t.seen(recordKey(owner.ID)) || t.seen(charityKey(owner.RegistryNumber)) {
			continue
		}
		t.visit(recordKey(owner.ID))
		t.visit(charityKey(owner.RegistryNumber))

		t.reach(owner, level)
		node := newNode(owner, e.RelationType)
		grandparents, err := b.up(ctx, t, owner, level+1)
		if err != nil {
			return nil, err
		}
		node.Parents = grandparents
		parents = append(parents, node)
	}
	return parents, nil
}

// subsidiaryRecord finds the batch's record for a subsidiary or creates one
// under parent.
func (b *Builder) subsidiaryRecord(ctx context.Context, parent *model.Record, name, company, registered string) (*model.Record, error) {
	now := b.now()
	rec := &model.Record{
		BatchID:         parent.BatchID,
		OriginalName:    name,
		OriginalData:    map[string]any{"discovered_from": parent.RegistryNumber},
		EntityKind:      model.EntityKindCompany,
		ResolvedName:    name,
		RegistryNumber:  registered,
		SecondaryNumber: company,
		Method:          model.MethodSubsidiaryDiscovery,
		ResolvedAt:      &now,
		ParentRecordID:  parent.ID,
		OwnershipDepth:  parent.OwnershipDepth + 1,
	}
	// A subsidiary with no number cannot satisfy the matched invariant.
	if rec.HasIdentity() {
		rec.Status = model.StatusMatched
		rec.Confidence = model.Float(1.0)
	} else {
		rec.Status = model.StatusManualReview
	}

	got, created, err := b.store.FindOrCreateRecord(ctx, store.RecordKey{
		BatchID:         parent.BatchID,
		RegistryNumber:  registered,
		SecondaryNumber: company,
		ParentRecordID:  parent.ID,
		Name:            name,
	}, rec)
	if err != nil {
		return nil, eris.Wrapf(err, "ownership: subsidiary %q", name)
	}
	if created {
		b.metrics.EntityDiscovered(string(model.RelationSubsidiary))
		zap.L().Debug("ownership: subsidiary discovered",
			zap.String("parent_id", parent.ID),
			zap.String("name", name),
			zap.String("company_number", company),
		)
	}
	return got, nil
}

// trusteeCharity links parent to a registered charity whose name equals the
// trustee's. It returns nil when there is none.
func (b *Builder) trusteeCharity(ctx context.Context, t *traversal, parent *model.Record, trustee string, level int) (*Node, error) {
	trustee = strings.TrimSpace(trustee)
	if trustee == "" {
		return nil, nil
	}
	results, err := b.registry.Search(ctx, trustee, TrusteeSearchSize)
	if err != nil {
		return nil, eris.Wrapf(err, "ownership: search trustee %q", trustee)
	}

	for i := range results {
		number := results[i].Number()
		if number == "" || number == parent.RegistryNumber || t.seen(charityKey(number)) {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(results[i].DisplayName()), trustee) {
			continue
		}
		t.visit(charityKey(number))

		related, err := b.relatedCharity(ctx, parent, number, results[i].DisplayName())
		if err != nil {
			return nil, err
		}
		if related == nil || !t.visit(recordKey(related.ID)) {
			return nil, nil
		}
		if err := b.link(ctx, parent, related, model.RelationTrusteeCharity); err != nil {
			return nil, err
		}
		t.reach(related, level)
		return newNode(related, model.RelationTrusteeCharity), nil
	}
	return nil, nil
}

// relatedCharity finds or creates a fully enriched charity record. It
// returns nil when the register no longer has the charity.
func (b *Builder) relatedCharity(ctx context.Context, parent *model.Record, number, name string) (*model.Record, error) {
	key := store.RecordKey{BatchID: parent.BatchID, RegistryNumber: number}
	existing, err := b.store.FindRecord(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	ch, err := charity.FullDetails(ctx, b.registry, number)
	if err != nil {
		return nil, eris.Wrapf(err, "ownership: details %s", number)
	}
	if ch == nil {
		return nil, nil
	}

	rec := &model.Record{
		BatchID:        parent.BatchID,
		OriginalName:   name,
		OriginalData:   map[string]any{"discovered_from": parent.RegistryNumber},
		ParentRecordID: parent.ID,
		OwnershipDepth: parent.OwnershipDepth + 1,
	}
	resolve.ApplyDetails(rec, charity.Parse(ch), number, model.MethodRelatedDiscovery, 1.0, b.now())

	got, created, err := b.store.FindOrCreateRecord(ctx, key, rec)
	if err != nil {
		return nil, eris.Wrapf(err, "ownership: related charity %s", number)
	}
	if created {
		b.metrics.EntityDiscovered(string(model.RelationTrusteeCharity))
	}
	return got, nil
}

func (b *Builder) link(ctx context.Context, owner, owned *model.Record, relation model.RelationType) error {
	_, created, err := b.store.GetOrCreateEdge(ctx, &model.OwnershipEdge{
		OwnerRecordID: owner.ID,
		OwnedRecordID: owned.ID,
		RelationType:  relation,
		Source:        model.EdgeSourceRegistry,
		Verified:      true,
	})
	if err != nil {
		return eris.Wrapf(err, "ownership: link %s -> %s", owner.ID, owned.ID)
	}
	if created {
		zap.L().Debug("ownership: edge created",
			zap.String("owner_id", owner.ID),
			zap.String("owned_id", owned.ID),
			zap.String("relation", string(relation)),
		)
	}
	return nil
}
