package wsclient

import "encoding/json"

// envelope reads just the discriminator so the dispatcher can decode the
// rest into the right concrete type.
type envelope struct {
	Type string `json:"type"`
}

type helloMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
}

type syncMsg struct {
	Type     string `json:"type"`
	PaneID   int    `json:"paneId"`
	Gen      uint64 `json:"gen"`
	MinRowID uint64 `json:"minRowId"`
}

type resyncMsg struct {
	Type   string `json:"type"`
	PaneID int    `json:"paneId"`
	Reason string `json:"reason"`
}

type keyMsg struct {
	Type    string `json:"type"`
	PaneID  int    `json:"paneId"`
	Key     string `json:"key"`
	Code    string `json:"code"`
	KeyCode int    `json:"keyCode"`
	State   string `json:"state"`
	Ctrl    bool   `json:"ctrl"`
	Alt     bool   `json:"alt"`
	Shift   bool   `json:"shift"`
	Meta    bool   `json:"meta"`
	Repeat  bool   `json:"repeat"`
}

type textMsg struct {
	Type   string `json:"type"`
	PaneID int    `json:"paneId"`
	Data   string `json:"data"`
}

type resizeMsg struct {
	Type   string `json:"type"`
	PaneID int    `json:"paneId"`
	Cols   int    `json:"cols"`
	Rows   int    `json:"rows"`
}

type scrollMsg struct {
	Type   string `json:"type"`
	PaneID int    `json:"paneId"`
	Delta  int    `json:"delta"`
}

type focusMsg struct {
	Type   string `json:"type"`
	PaneID int    `json:"paneId"`
}

type newWindowMsg struct {
	Type       string `json:"type"`
	TemplateID string `json:"templateId,omitempty"`
}

type closeWindowMsg struct {
	Type     string `json:"type"`
	WindowID int    `json:"windowId"`
}

// Server -> client message shapes.

type masterChangedMsg struct {
	Type     string  `json:"type"`
	MasterID *string `json:"masterId"`
}

type titleMsg struct {
	Type   string `json:"type"`
	PaneID int    `json:"paneId"`
	Title  string `json:"title"`
}

type pongMsg struct {
	Type string `json:"type"`
}

func marshal(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		// Every type above is a plain struct of strings/ints/bools; marshal
		// cannot fail for them.
		panic(err)
	}
	return b
}
