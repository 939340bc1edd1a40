package protocol

// Range is a [start, end) character offset pair.
type Range [2]int

// Auth is sent once after the transport connects.
type Auth struct {
	Username           string   `json:"username"`
	APIKey             string   `json:"api_key"`
	Secret             string   `json:"secret"`
	Owner              string   `json:"owner"`
	Workspace          string   `json:"workspace"`
	Client             string   `json:"client,omitempty"`
	Platform           string   `json:"platform,omitempty"`
	Version            string   `json:"version,omitempty"`
	SupportedEncodings []string `json:"supported_encodings,omitempty"`
}

// MessageName implements Message.
func (Auth) MessageName() string { return NameAuth }

// BufInfo describes a buffer without its content, as listed in room_info.
type BufInfo struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	MD5      string `json:"md5"`
	Encoding string `json:"encoding"`
}

// BufContent carries a full buffer. It is the payload of get_buf responses
// and of create_buf broadcasts.
type BufContent struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	Buf      string `json:"buf"`
	MD5      string `json:"md5"`
	Encoding string `json:"encoding"`
	UserID   int    `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// CreateBuf asks the service to add a new buffer.
type CreateBuf struct {
	Path     string `json:"path"`
	Buf      string `json:"buf"`
	MD5      string `json:"md5"`
	Encoding string `json:"encoding"`
}

// MessageName implements Message.
func (CreateBuf) MessageName() string { return NameCreateBuf }

// GetBuf requests a fresh copy of a buffer.
type GetBuf struct {
	ID int `json:"id"`
}

// MessageName implements Message.
func (GetBuf) MessageName() string { return NameGetBuf }

// DeleteBuf removes a buffer. Unlink asks clients to remove the file as well.
type DeleteBuf struct {
	ID       int    `json:"id"`
	Unlink   bool   `json:"unlink"`
	Path     string `json:"path,omitempty"`
	UserID   int    `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// MessageName implements Message.
func (DeleteBuf) MessageName() string { return NameDeleteBuf }

// RenameBuf moves a buffer to a new relative path.
type RenameBuf struct {
	ID      int    `json:"id"`
	Path    string `json:"path"`
	OldPath string `json:"old_path,omitempty"`
}

// MessageName implements Message.
func (RenameBuf) MessageName() string { return NameRenameBuf }

// SaveBuf asks every client to save the buffer to disk.
type SaveBuf struct {
	ID int `json:"id"`
}

// MessageName implements Message.
func (SaveBuf) MessageName() string { return NameSaveBuf }

// Saved is broadcast after a buffer was saved.
type Saved struct {
	ID       int    `json:"id"`
	UserID   int    `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// Patch carries a diff-match-patch text patch. The md5 pair is the checksum
// of the buffer before and after applying the patch.
type Patch struct {
	ID        int    `json:"id"`
	Path      string `json:"path,omitempty"`
	Patch     string `json:"patch"`
	MD5Before string `json:"md5_before"`
	MD5After  string `json:"md5_after"`
	UserID    int    `json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
}

// MessageName implements Message.
func (Patch) MessageName() string { return NamePatch }

// Highlight broadcasts a selection or cursor position.
type Highlight struct {
	ID        int     `json:"id"`
	Ranges    []Range `json:"ranges"`
	Ping      bool    `json:"ping"`
	Summon    bool    `json:"summon,omitempty"`
	Following bool    `json:"following,omitempty"`
	UserID    int     `json:"user_id,omitempty"`
	Username  string  `json:"username,omitempty"`
}

// MessageName implements Message.
func (Highlight) MessageName() string { return NameHighlight }

// Msg is a chat message.
type Msg struct {
	Text     string  `json:"text"`
	Username string  `json:"username,omitempty"`
	UserID   int     `json:"user_id,omitempty"`
	Time     float64 `json:"time,omitempty"`
}

// MessageName implements Message.
func (Msg) MessageName() string { return NameMsg }

// Kick disconnects another user.
type Kick struct {
	UserID int `json:"user_id"`
}

// MessageName implements Message.
func (Kick) MessageName() string { return NameKick }

// SetPerms changes another user's permissions. Action is add, remove or set.
type SetPerms struct {
	Action string   `json:"action"`
	UserID int      `json:"user_id"`
	Perms  []string `json:"perms"`
}

// MessageName implements Message.
func (SetPerms) MessageName() string { return NameSetPerms }

// Perms is broadcast when a user's permissions change.
type Perms struct {
	Action string   `json:"action"`
	UserID int      `json:"user_id"`
	Perms  []string `json:"perms"`
}

// RequestEdit asks the workspace admins for edit permission.
type RequestEdit struct {
	Perms []string `json:"perms"`
}

// MessageName implements Message.
func (RequestEdit) MessageName() string { return NameRequestEdit }

// RequestPerms is forwarded to admins when someone asks for permissions.
type RequestPerms struct {
	UserID   int      `json:"user_id"`
	Username string   `json:"username,omitempty"`
	Perms    []string `json:"perms"`
}

// Summon asks every client to jump to a location.
type Summon struct {
	ID     int    `json:"id"`
	Path   string `json:"path"`
	Offset int    `json:"offset"`
}

// MessageName implements Message.
func (Summon) MessageName() string { return NameSummon }

// User describes a connected client.
type User struct {
	UserID   int      `json:"user_id"`
	Username string   `json:"username"`
	Client   string   `json:"client,omitempty"`
	Platform string   `json:"platform,omitempty"`
	Perms    []string `json:"perms,omitempty"`
}

// Part is broadcast when a client leaves.
type Part struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
}

// RoomInfo acknowledges authentication and describes the workspace.
type RoomInfo struct {
	UserID    int                `json:"user_id"`
	Owner     string             `json:"owner,omitempty"`
	Workspace string             `json:"room_name,omitempty"`
	Perms     []string           `json:"perms"`
	Bufs      map[string]BufInfo `json:"bufs"`
	Users     map[string]User    `json:"users"`
}

// ErrorMsg is an error reported by the service.
type ErrorMsg struct {
	Msg   string `json:"msg"`
	Flash bool   `json:"flash,omitempty"`
}

// Disconnect announces that the service is closing the session.
type Disconnect struct {
	Reason string `json:"reason"`
}

// Pong answers a ping.
type Pong struct{}

// MessageName implements Message.
func (Pong) MessageName() string { return NamePong }

// RequestCredentials starts the account-link flow.
type RequestCredentials struct {
	Token string `json:"token"`
}

// MessageName implements Message.
func (RequestCredentials) MessageName() string { return NameRequestCredentials }

// Credentials answers RequestCredentials once the user approved the link.
type Credentials struct {
	Credentials map[string]string `json:"credentials"`
}
