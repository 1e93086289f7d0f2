package distgraph

import (
	"github.com/hupe1980/distgraph/rpc"
)

// Graph structural services. 64+ keeps clear of the transport's reserved
// range and the tensor store's 32+ block.
const (
	serviceGraphMeta rpc.ServiceID = 64 + iota
	serviceSampleNeighbors
	serviceInEdges
	serviceOutEdges
)

type graphMetaRequest struct{}

func (*graphMetaRequest) ServiceID() rpc.ServiceID { return serviceGraphMeta }

type graphMetaResponse struct {
	GraphName string `json:"graph_name"`
	NumNodes  int64  `json:"num_nodes"`
	NumEdges  int64  `json:"num_edges"`
	NumParts  int    `json:"num_parts"`
	PartID    int    `json:"part_id"`
}

func (*graphMetaResponse) ServiceID() rpc.ServiceID { return serviceGraphMeta }

// EdgeList is a flat batch of edges in (src, dst, edge-ID) triple form, all
// as global IDs. The three slices always have equal length.
type EdgeList struct {
	Src []int64 `json:"src"`
	Dst []int64 `json:"dst"`
	EID []int64 `json:"eid"`
}

// Len returns the number of edges.
func (e *EdgeList) Len() int { return len(e.Src) }

func (e *EdgeList) append(src, dst, eid int64) {
	e.Src = append(e.Src, src)
	e.Dst = append(e.Dst, dst)
	e.EID = append(e.EID, eid)
}

func (e *EdgeList) merge(o *EdgeList) {
	e.Src = append(e.Src, o.Src...)
	e.Dst = append(e.Dst, o.Dst...)
	e.EID = append(e.EID, o.EID...)
}

type sampleNeighborsRequest struct {
	Seeds  []int64 `json:"seeds"`
	Fanout int64   `json:"fanout"`
}

func (*sampleNeighborsRequest) ServiceID() rpc.ServiceID { return serviceSampleNeighbors }

type sampleNeighborsResponse struct {
	Edges EdgeList `json:"edges"`
	// Counts holds the number of edges per requested seed, in request order,
	// so the client can reassemble groups positionally.
	Counts []int64 `json:"counts"`
}

func (*sampleNeighborsResponse) ServiceID() rpc.ServiceID { return serviceSampleNeighbors }

type inEdgesRequest struct {
	IDs []int64 `json:"ids"`
}

func (*inEdgesRequest) ServiceID() rpc.ServiceID { return serviceInEdges }

type inEdgesResponse struct {
	Edges  EdgeList `json:"edges"`
	Counts []int64  `json:"counts"`
}

func (*inEdgesResponse) ServiceID() rpc.ServiceID { return serviceInEdges }

type outEdgesRequest struct {
	IDs []int64 `json:"ids"`
}

func (*outEdgesRequest) ServiceID() rpc.ServiceID { return serviceOutEdges }

type outEdgesResponse struct {
	Edges  EdgeList `json:"edges"`
	Counts []int64  `json:"counts"`
}

func (*outEdgesResponse) ServiceID() rpc.ServiceID { return serviceOutEdges }
