package protocol

// Method names one operation a worker can serve over API_CALL.
type Method string

// Supported worker methods.
const (
	MethodGetLands            Method = "getLands"
	MethodGetFriends          Method = "getFriends"
	MethodGetFriendLands      Method = "getFriendLands"
	MethodDoFriendOp          Method = "doFriendOp"
	MethodGetSeeds            Method = "getSeeds"
	MethodGetTasks            Method = "getTasks"
	MethodClaimTask           Method = "claimTask"
	MethodDoFarmOp            Method = "doFarmOp"
	MethodGetAnalytics        Method = "getAnalytics"
	MethodGetIntervals        Method = "getIntervals"
	MethodGetPlantingStrategy Method = "getPlantingStrategy"
	MethodDebugSellFruits     Method = "debugSellFruits"
	MethodReconnect           Method = "reconnect"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodGetLands, MethodGetFriends, MethodGetFriendLands, MethodDoFriendOp,
		MethodGetSeeds, MethodGetTasks, MethodClaimTask, MethodDoFarmOp,
		MethodGetAnalytics, MethodGetIntervals, MethodGetPlantingStrategy,
		MethodDebugSellFruits, MethodReconnect:
		return true
	default:
		return false
	}
}

// FriendLandsArgs are the arguments of getFriendLands.
type FriendLandsArgs struct {
	GID int64 `json:"gid"`
}

// FriendOpArgs are the arguments of doFriendOp.
type FriendOpArgs struct {
	GID int64  `json:"gid"`
	Op  string `json:"op"`
}

// ClaimTaskArgs are the arguments of claimTask.
type ClaimTaskArgs struct {
	TaskID int64 `json:"task_id"`
}

// FarmOpArgs are the arguments of doFarmOp.
type FarmOpArgs struct {
	Op string `json:"op"`
}

// AnalyticsArgs are the arguments of getAnalytics.
type AnalyticsArgs struct {
	SortBy string `json:"sort_by"`
}

// ReconnectArgs are the arguments of reconnect.
type ReconnectArgs struct {
	Code string `json:"code"`
}
