package rpc

import "time"

type RedeemRequest struct {
	Identity string `json:"identity"`
}

type RedeemResponse struct {
	BatchIndex  int       `json:"batch_index"`
	Phones      []string  `json:"phones"`
	RedeemCount int       `json:"redeem_count"`
	Remaining   int       `json:"remaining"`
	RedeemedAt  time.Time `json:"redeemed_at"`
}

// SubmitRequest carries numbers as a list, as newline-separated text, or both
type SubmitRequest struct {
	Identity string   `json:"identity"`
	Phones   []string `json:"phones,omitempty"`
	Raw      string   `json:"raw,omitempty"`
}

type SubmitResponse struct {
	Accepted int `json:"accepted"`
}

type ToggleMarkRequest struct {
	Phone string `json:"phone"`
}

type ToggleMarkResponse struct {
	Claimed bool `json:"claimed"`
}

type ExportClaimedRequest struct{}

type ExportClaimedResponse struct {
	Phones   []string `json:"phones"`
	Location string   `json:"location"`
}

type ResetIdentityRequest struct {
	Identity string `json:"identity"`
}

type ResetIdentityResponse struct {
	Existed bool `json:"existed"`
}

type RebuildPoolRequest struct {
	Raw string `json:"raw"`
}

type RebuildPoolResponse struct {
	Batches            int `json:"batches"`
	Phones             int `json:"phones"`
	SkippedBlacklisted int `json:"skipped_blacklisted"`
	SkippedDuplicates  int `json:"skipped_duplicates"`
}

type ImportWhitelistRequest struct {
	Raw string `json:"raw"`
}

type ImportWhitelistResponse struct {
	Count int `json:"count"`
}

// ListUploadsRequest filters by identity and by day (YYYY-MM-DD); empty fields match all
type ListUploadsRequest struct {
	Identity string `json:"identity,omitempty"`
	Date     string `json:"date,omitempty"`
}

type Upload struct {
	Phone      string    `json:"phone"`
	UploadedAt time.Time `json:"uploaded_at"`
	Claimed    bool      `json:"claimed"`
}

type UploadGroup struct {
	Identity string   `json:"identity"`
	Uploads  []Upload `json:"uploads"`
}

type ListUploadsResponse struct {
	Groups []UploadGroup `json:"groups"`
}

type BlacklistSummaryRequest struct {
	Preview int `json:"preview"`
}

type BlacklistSummaryResponse struct {
	Count   int      `json:"count"`
	Preview []string `json:"preview"`
}
