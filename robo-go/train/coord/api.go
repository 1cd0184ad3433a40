// Package coord synchronizes trainer replicas at epoch boundaries through a small
// HTTP barrier service: each rank announces its arrival and then polls until every
// rank in the world has arrived.
package coord

// ArriveRequest announces a rank at a named barrier.
type ArriveRequest struct {
	Rank      int `json:"rank"`
	WorldSize int `json:"world_size"`
}

// ArriveResponse carries the generation the caller should poll for.
type ArriveResponse struct {
	Generation int `json:"generation"`
}

// StatusResponse reports whether a generation of a named barrier has been released.
type StatusResponse struct {
	Released bool `json:"released"`
}

// EndpointArrive and EndpointStatus are the coordinator's routes; {name} identifies
// the barrier, typically one per checkpointing epoch.
const (
	EndpointArrive = "/barrier/{name}/arrive"
	EndpointStatus = "/barrier/{name}/status"
)
