package consolidation

import (
	"context"
	"net/http"
	"slices"
	"testing"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/partnermap/internal/repositories/node"
	"github.com/Ramsey-B/partnermap/pkg/matching"
	"github.com/Ramsey-B/partnermap/pkg/models"
)

var testLogger = ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})

type fakeTx struct{}

func (fakeTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fakeEntities struct {
	items  []*models.Entity
	locked []string
}

func (f *fakeEntities) List(context.Context) ([]models.Entity, error) {
	out := []models.Entity{}
	for _, e := range f.items {
		out = append(out, *e)
	}
	return out, nil
}

func (f *fakeEntities) GetForUpdate(_ context.Context, id string) (*models.Entity, error) {
	f.locked = append(f.locked, id)
	for _, e := range f.items {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "entity %s not found", id)
}

func (f *fakeEntities) Rename(ctx context.Context, id, name string, aliases []string) (*models.Entity, error) {
	for _, e := range f.items {
		if e.ID == id {
			e.MasterEntityName = name
			e.AlternateNames = matching.UnionAliases(nil, name, aliases...)
		}
	}
	return f.GetForUpdate(ctx, id)
}

func (f *fakeEntities) Delete(_ context.Context, ids ...string) (int, error) {
	before := len(f.items)
	f.items = slices.DeleteFunc(f.items, func(e *models.Entity) bool { return slices.Contains(ids, e.ID) })
	return before - len(f.items), nil
}

type fakeNodes struct{ items []*models.Node }

func (f *fakeNodes) find(id string) *models.Node {
	for _, n := range f.items {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (f *fakeNodes) List(_ context.Context, filter models.NodeFilter) ([]models.Node, error) {
	out := []models.Node{}
	for _, n := range f.items {
		if filter.EntityID != "" && n.EntityID != filter.EntityID {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

func (f *fakeNodes) GetForUpdate(_ context.Context, id string) (*models.Node, error) {
	n := f.find(id)
	if n == nil {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "node %s not found", id)
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNodes) Rename(ctx context.Context, id, name string, aliases []string) (*models.Node, error) {
	n := f.find(id)
	n.NodeName = name
	n.NodeAliases = matching.UnionAliases(nil, name, aliases...)
	return f.GetForUpdate(ctx, id)
}

func (f *fakeNodes) Union(ctx context.Context, id string, add node.Additions) (*models.Node, error) {
	n := f.find(id)
	n.NodeAliases = matching.UnionAliases(n.NodeAliases, n.NodeName, add.Aliases...)
	n.ConnectsTo = matching.UnionAliases(n.ConnectsTo, n.ID, add.ConnectsTo...)
	n.ProtocolsSupported = matching.UnionAliases(n.ProtocolsSupported, "", add.Protocols...)
	n.DataTypesSupported = matching.UnionAliases(n.DataTypesSupported, "", add.DataTypes...)
	return f.GetForUpdate(ctx, id)
}

func (f *fakeNodes) Reparent(_ context.Context, fromEntityIDs []string, toEntityID string) (int, error) {
	count := 0
	for _, n := range f.items {
		if slices.Contains(fromEntityIDs, n.EntityID) {
			n.EntityID = toEntityID
			count++
		}
	}
	return count, nil
}

func (f *fakeNodes) RewriteEdges(_ context.Context, fromIDs []string, toID string) (int, error) {
	count := 0
	for _, n := range f.items {
		if !slices.ContainsFunc(n.ConnectsTo, func(c string) bool { return slices.Contains(fromIDs, c) }) {
			continue
		}
		var rewritten []string
		for _, c := range n.ConnectsTo {
			if slices.Contains(fromIDs, c) {
				c = toID
			}
			rewritten = append(rewritten, c)
		}
		n.ConnectsTo = matching.UnionAliases(nil, n.ID, rewritten...)
		count++
	}
	return count, nil
}

func (f *fakeNodes) Delete(_ context.Context, ids ...string) (int, error) {
	before := len(f.items)
	f.items = slices.DeleteFunc(f.items, func(n *models.Node) bool { return slices.Contains(ids, n.ID) })
	return before - len(f.items), nil
}

type recordingGraph struct {
	entities []string
	upserted []string
	deleted  []string
}

func (g *recordingGraph) UpsertEntities(_ context.Context, entities ...models.Entity) error {
	for _, e := range entities {
		g.entities = append(g.entities, e.ID)
	}
	return nil
}

func (g *recordingGraph) UpsertNodes(_ context.Context, nodes ...models.Node) error {
	for _, n := range nodes {
		g.upserted = append(g.upserted, n.ID)
	}
	return nil
}

func (g *recordingGraph) DeleteNodes(_ context.Context, ids ...string) error {
	g.deleted = append(g.deleted, ids...)
	return nil
}

func (g *recordingGraph) DeleteEntities(_ context.Context, ids ...string) error {
	g.deleted = append(g.deleted, ids...)
	return nil
}

func newService(entities *fakeEntities, nodes *fakeNodes, g *recordingGraph) *Service {
	return NewService(testLogger, fakeTx{}, nil, entities, nodes, nil, g, 0)
}

func TestService_ProposeEntityGroups(t *testing.T) {
	entities := &fakeEntities{items: []*models.Entity{
		{ID: "e1", MasterEntityName: "Acme Travels", AlternateNames: pq.StringArray{"ACME"}},
		{ID: "e2", MasterEntityName: "Sabre"},
		{ID: "e3", MasterEntityName: "Acme Travel"},
		{ID: "e4", MasterEntityName: "Acme Travel Group"},
	}}
	svc := newService(entities, &fakeNodes{}, &recordingGraph{})

	groups, err := svc.ProposeEntityGroups(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, groups, 1)
	group := groups[0]
	assert.Equal(t, "e1", group.Master.ID)
	require.Len(t, group.Candidates, 1, "Acme Travel Group scores 0.647 and stays out")
	assert.Equal(t, "e3", group.Candidates[0].ID)
	assert.Equal(t, "Acme Travel", group.CanonicalName)
	assert.Equal(t, []string{"Acme Travels", "ACME"}, group.Aliases)

	groups, err = svc.ProposeEntityGroups(context.Background(), 0.6)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].Candidates, 2)
}

func TestService_ProposeNodeGroups(t *testing.T) {
	nodes := &fakeNodes{items: []*models.Node{
		{ID: "n1", NodeName: "SiteMinder", NodeCategory: models.NodeCategoryCM},
		{ID: "n2", NodeName: "Site Minder", NodeCategory: models.NodeCategoryBookingEngine},
		{ID: "n3", NodeName: "Site Minder", NodeCategory: models.NodeCategoryCM},
	}}
	svc := newService(&fakeEntities{}, nodes, &recordingGraph{})

	groups, err := svc.ProposeNodeGroups(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, groups, 1, "categories are never mixed")
	assert.Equal(t, models.NodeCategoryCM, groups[0].Category)
	assert.Equal(t, "n1", groups[0].Master.ID)
	assert.Equal(t, "n3", groups[0].Candidates[0].ID)
	assert.Equal(t, "SiteMinder", groups[0].CanonicalName)
	assert.Equal(t, []string{"Site Minder"}, groups[0].Aliases)
}

func TestService_MergeEntities(t *testing.T) {
	entities := &fakeEntities{items: []*models.Entity{
		{ID: "e1", MasterEntityName: "Acme Travels", AlternateNames: pq.StringArray{"ACME"}},
		{ID: "e2", MasterEntityName: "Acme Travel", AlternateNames: pq.StringArray{"Acme Inc."}},
	}}
	nodes := &fakeNodes{items: []*models.Node{
		{ID: "n1", NodeName: "Acme CM", EntityID: "e1"},
		{ID: "n2", NodeName: "Acme PMS", EntityID: "e2"},
	}}
	g := &recordingGraph{}
	svc := newService(entities, nodes, g)

	result, err := svc.MergeEntities(context.Background(), models.MergeEntitiesRequest{
		MasterID:     "e1",
		CandidateIDs: []string{"e2", "e2"},
		Aliases:      []string{"Acme Group"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, result.EntitiesDeleted)
	assert.Equal(t, 1, result.NodesReparented)
	assert.Equal(t, "Acme Travel", result.Master.MasterEntityName)
	assert.Equal(t, []string{"Acme Travels", "ACME", "Acme Inc.", "Acme Group"}, []string(result.Master.AlternateNames))

	require.Len(t, entities.items, 1)
	assert.Equal(t, "e1", nodes.items[1].EntityID)
	assert.ElementsMatch(t, []string{"n1", "n2"}, g.upserted)
	assert.Equal(t, []string{"e1"}, g.entities)
	assert.Equal(t, []string{"e2"}, g.deleted)
}

func TestService_MergeEntities_LocksInIDOrder(t *testing.T) {
	entities := &fakeEntities{items: []*models.Entity{
		{ID: "e1", MasterEntityName: "Acme Travel"},
		{ID: "e2", MasterEntityName: "Acme Travels"},
		{ID: "e3", MasterEntityName: "Acme Travel Co"},
	}}
	svc := newService(entities, &fakeNodes{}, &recordingGraph{})

	result, err := svc.MergeEntities(context.Background(), models.MergeEntitiesRequest{
		MasterID:     "e3",
		CandidateIDs: []string{"e2", "e1"},
	})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(entities.locked), 3)
	assert.Equal(t, []string{"e1", "e2", "e3"}, entities.locked[:3])
	assert.Equal(t, 2, result.EntitiesDeleted)
	assert.Equal(t, "e3", result.Master.ID)
}

func TestService_MergeEntities_ChosenName(t *testing.T) {
	entities := &fakeEntities{items: []*models.Entity{
		{ID: "e1", MasterEntityName: "Acme Travels"},
		{ID: "e2", MasterEntityName: "Acme Travel"},
	}}
	svc := newService(entities, &fakeNodes{}, &recordingGraph{})

	result, err := svc.MergeEntities(context.Background(), models.MergeEntitiesRequest{
		MasterID:      "e1",
		CandidateIDs:  []string{"e2"},
		CanonicalName: "ACME Travel Ltd",
	})
	require.NoError(t, err)
	assert.Equal(t, "ACME Travel Ltd", result.Master.MasterEntityName)
	assert.Equal(t, []string{"Acme Travels", "Acme Travel"}, []string(result.Master.AlternateNames))
}

func TestService_MergeEntities_Invalid(t *testing.T) {
	entities := &fakeEntities{items: []*models.Entity{{ID: "e1", MasterEntityName: "Acme"}}}
	svc := newService(entities, &fakeNodes{}, &recordingGraph{})

	_, err := svc.MergeEntities(context.Background(), models.MergeEntitiesRequest{MasterID: "e1", CandidateIDs: []string{"e1"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))

	_, err = svc.MergeEntities(context.Background(), models.MergeEntitiesRequest{MasterID: "e1", CandidateIDs: []string{"missing"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, httperror.GetStatusCode(err))
	assert.Len(t, entities.items, 1)
}

func TestService_MergeNodes(t *testing.T) {
	nodes := &fakeNodes{items: []*models.Node{
		{ID: "n1", NodeName: "Site Minder", NodeCategory: models.NodeCategoryCM, ConnectsTo: pq.StringArray{"n2", "n9"}, ProtocolsSupported: pq.StringArray{"REST"}},
		{ID: "n2", NodeName: "SiteMinder", NodeCategory: models.NodeCategoryCM, NodeAliases: pq.StringArray{"SM"}, ConnectsTo: pq.StringArray{"n1", "n4"}, ProtocolsSupported: pq.StringArray{"SOAP"}},
		{ID: "n3", NodeName: "Opera PMS", NodeCategory: models.NodeCategoryPMS, ConnectsTo: pq.StringArray{"n2"}},
		{ID: "n4", NodeName: "Expedia", NodeCategory: models.NodeCategoryOTA},
	}}
	g := &recordingGraph{}
	svc := newService(&fakeEntities{}, nodes, g)

	result, err := svc.MergeNodes(context.Background(), models.MergeNodesRequest{MasterID: "n1", CandidateIDs: []string{"n2"}})
	require.NoError(t, err)

	master := result.Master
	assert.Equal(t, "SiteMinder", master.NodeName)
	assert.Equal(t, []string{"Site Minder", "SM"}, []string(master.NodeAliases))
	assert.Equal(t, []string{"n9", "n4"}, []string(master.ConnectsTo), "self-edges are dropped")
	assert.Equal(t, []string{"REST", "SOAP"}, []string(master.ProtocolsSupported))
	assert.Equal(t, 1, result.NodesDeleted)
	assert.Equal(t, 2, result.EdgesRewritten)

	assert.Equal(t, []string{"n1"}, []string(nodes.find("n3").ConnectsTo))
	assert.Nil(t, nodes.find("n2"))
	assert.Equal(t, []string{"n2"}, g.deleted)
	assert.ElementsMatch(t, []string{"n1", "n3"}, g.upserted)
}

func TestService_MergeNodes_CrossCategory(t *testing.T) {
	nodes := &fakeNodes{items: []*models.Node{
		{ID: "n1", NodeName: "SiteMinder", NodeCategory: models.NodeCategoryCM},
		{ID: "n2", NodeName: "Site Minder", NodeCategory: models.NodeCategoryBookingEngine},
	}}
	svc := newService(&fakeEntities{}, nodes, &recordingGraph{})

	_, err := svc.MergeNodes(context.Background(), models.MergeNodesRequest{MasterID: "n1", CandidateIDs: []string{"n2"}})
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, httperror.GetStatusCode(err))
	assert.Len(t, nodes.items, 2)
}

func TestService_CanonicalizeEntity(t *testing.T) {
	entities := &fakeEntities{items: []*models.Entity{
		{ID: "e1", MasterEntityName: "Example Hotels Group", AlternateNames: pq.StringArray{"example_hotels", "Example Hotels"}},
	}}
	g := &recordingGraph{}
	svc := newService(entities, &fakeNodes{}, g)

	entity, err := svc.CanonicalizeEntity(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "Example Hotels", entity.MasterEntityName)
	assert.Equal(t, []string{"Example Hotels Group", "example_hotels"}, []string(entity.AlternateNames))
	assert.Equal(t, []string{"e1"}, g.entities)
}
