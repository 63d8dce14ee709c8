package model

// --- v2 create tweet ---

type TweetReq struct {
	Text  string      `json:"text"`
	Reply *TweetReply `json:"reply,omitempty"`
}
type TweetReply struct {
	InReplyToTweetID string `json:"in_reply_to_tweet_id"`
}
type TweetResp struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
}

// --- v2 problem / v1.1 error bodies ---

type ProblemResp struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
	Status int    `json:"status"`
}
type V1ErrorResp struct {
	Errors []struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// --- v1.1 application/rate_limit_status ---

type RateLimitStatus struct {
	Resources map[string]map[string]RateLimitResource `json:"resources"`
}
type RateLimitResource struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"` // unix seconds
}
