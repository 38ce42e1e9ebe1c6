package client

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"fleur-q/internal/calc"
	"fleur-q/internal/engine"
	"fleur-q/internal/logging"
	"fleur-q/internal/node"
	"fleur-q/internal/plan"
	"fleur-q/internal/provenance"
	"fleur-q/internal/security"
	"fleur-q/internal/server"
	"fleur-q/internal/storage"
	"fleur-q/internal/submit"
)

type ClientSuite struct {
	suite.Suite
	ts     *httptest.Server
	client *Client
	ctx    context.Context
	code   *node.Node
}

func (s *ClientSuite) SetupTest() {
	dir := s.T().TempDir()
	keys, err := security.GenerateKeyPair()
	s.Require().NoError(err)
	ledger, err := provenance.OpenLedger(filepath.Join(dir, "ledger.jsonl"))
	s.Require().NoError(err)
	svc, err := engine.New(ledger, storage.NewRepository(filepath.Join(dir, "repo")), keys, logging.Discard())
	s.Require().NoError(err)

	s.ts = httptest.NewServer(server.New(svc, logging.Discard()))
	s.client = New(s.ts.URL+"/", 5*time.Second)
	s.ctx = context.Background()

	s.code, err = s.client.CreateNode(s.ctx, &node.Node{Type: node.TypeCode, Label: "inpgen", Code: &node.Code{Plugin: calc.PluginInpgen}})
	s.Require().NoError(err)
}

func (s *ClientSuite) TearDownTest() {
	s.ts.Close()
}

func (s *ClientSuite) structure(symbols ...string) *node.Node {
	st := &node.Structure{}
	for _, sym := range symbols {
		st.Sites = append(st.Sites, node.Site{Symbol: sym})
	}
	n, err := s.client.CreateNode(s.ctx, &node.Node{Type: node.TypeStructure, Structure: st})
	s.Require().NoError(err)
	return n
}

func (s *ClientSuite) TestLoadNodeMapsErrors() {
	n, err := s.client.LoadNode(s.ctx, node.PKRef(s.code.PK))
	s.Require().NoError(err)
	s.Require().Equal(calc.PluginInpgen, n.Code.Plugin)

	n, err = s.client.LoadNode(s.ctx, node.Ref{UUID: s.code.UUID})
	s.Require().NoError(err)
	s.Require().Equal(s.code.PK, n.PK)

	_, err = s.client.LoadNode(s.ctx, node.PKRef(77))
	s.Require().ErrorIs(err, node.ErrNotFound)
	var apiErr *APIError
	s.Require().ErrorAs(err, &apiErr)
	s.Require().Equal(http.StatusNotFound, apiErr.Status)

	_, err = s.client.LoadNode(s.ctx, node.Ref{PK: s.code.PK, Output: "fleurinp"})
	s.Require().ErrorIs(err, node.ErrNoOutput)

	_, err = s.client.LoadNode(s.ctx, node.Ref{})
	s.Require().Error(err)
}

func (s *ClientSuite) TestRunPlanRemotely() {
	fe, ni, co := s.structure("Fe"), s.structure("Ni"), s.structure("Co")
	p := &plan.Plan{
		Process: "fleur.inpgen",
		Refs:    map[string]node.Ref{"code": node.PKRef(s.code.PK)},
		Dicts:   map[string]map[string]any{"parameters": {"film": map[string]any{"dvac": 10.0}}},
		Options: &node.Options{Resources: node.Resources{NumMPIProcsPerMachine: 1}},
		Each: &plan.Each{Port: "structure", Refs: []node.Ref{
			node.PKRef(fe.PK), {UUID: ni.UUID}, node.PKRef(co.PK),
		}},
	}

	var out bytes.Buffer
	handles, err := submit.NewRunner(s.client, &out).Run(s.ctx, p)
	s.Require().NoError(err)
	s.Require().Len(handles, 3)
	s.Require().Contains(out.String(), "for Fe structure")
	s.Require().Contains(out.String(), "for Co structure")

	for i, want := range []string{"Fe", "Ni", "Co"} {
		proc, err := s.client.Process(s.ctx, handles[i].PK)
		s.Require().NoError(err)
		s.Require().Equal(want, proc.Description)
		s.Require().Equal(node.StateCreated, proc.Process.State)
	}

	job, err := s.client.NextJob(s.ctx, "agent-1")
	s.Require().NoError(err)
	s.Require().Equal(handles[0].PK, job.PK)

	_, err = s.client.Complete(s.ctx, job.PK, engine.Result{AgentID: "agent-2"})
	s.Require().ErrorIs(err, engine.ErrInvalidState)

	done, err := s.client.Complete(s.ctx, job.PK, engine.Result{AgentID: "agent-1", Files: map[string]string{"inp.xml": "<fleurInput/>"}})
	s.Require().NoError(err)
	s.Require().Equal(node.StateFinished, done.Process.State)

	fleurinp, err := s.client.LoadNode(s.ctx, node.Ref{PK: job.PK, Output: "fleurinp"})
	s.Require().NoError(err)
	s.Require().Equal("Fe", fleurinp.Formula())

	s.Require().NoError(s.client.Verify(s.ctx))
}

func (s *ClientSuite) TestSubmitRejectedRemotely() {
	b, err := calc.NewBuilder("fleur.inpgen")
	s.Require().NoError(err)
	s.Require().NoError(b.SetNode("code", s.code))
	s.Require().NoError(b.SetNode("structure", s.structure("Si")))
	s.Require().NoError(b.SetDict("parameters", map[string]any{}))
	s.Require().NoError(b.SetOptions("metadata.options", node.Options{Resources: node.Resources{NumMPIProcsPerMachine: 1}}))
	bundle, err := b.Build()
	s.Require().NoError(err)

	// a structure the daemon has never stored
	bundle.Nodes["structure"] = &node.Node{PK: 999, Type: node.TypeStructure}
	_, err = s.client.Submit(s.ctx, bundle)
	s.Require().ErrorIs(err, node.ErrNotFound)

	job, err := s.client.NextJob(s.ctx, "agent-1")
	s.Require().NoError(err)
	s.Require().Nil(job)
}

func (s *ClientSuite) TestUnreachableDaemon() {
	c := New("http://127.0.0.1:1", time.Second)
	s.Require().Error(c.Health(s.ctx))
	s.Require().NoError(s.client.Health(s.ctx))
}

func TestClientSuite(t *testing.T) {
	suite.Run(t, new(ClientSuite))
}
