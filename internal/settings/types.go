package settings

const KeyAutoAssign = "auto_assign"

type Settings struct {
	AutoAssign bool `json:"auto_assign"`
}

type UpsertRequest struct {
	AutoAssign *bool `json:"auto_assign,omitempty"`
}
