package model

// NodeStatus is the payload returned by GET /status (§6). The loop driver
// polls it each cycle to discover BestHash, the hash the downloader's next
// save_diff walk starts from.
type NodeStatus struct {
	NetworkID   int32  `json:"networkId"`
	GenesisHash string `json:"genesisHash"`
	BestHash    string `json:"bestHash"`
	Number      uint64 `json:"number"`
}
