package douyin

// LiveURLPrefix is the prefix of every live room address
const LiveURLPrefix = "https://live.douyin.com/"

// Candidate selectors, most specific first
var (
	heartSelectors = []string{
		`[data-e2e="live-like"]`,
		`[class*="like-btn"]`,
		`[class*="heart"]`,
		`.like-button`,
		`.heart-btn`,
		`[class*="like-icon"]`,
	}

	containerSelectors = []string{
		`.xgplayer-container`,
		`[data-e2e="live-player"]`,
		`.live-player-video`,
		`.room-player`,
		`.player-container`,
		`.room-container`,
		`[class*="live-player"]`,
		`[class*="video-container"]`,
	}

	videoSelectors = []string{
		`.xgplayer-container video`,
		`[data-e2e="live-player"] video`,
		`.live-player-video video`,
		`.room-player video`,
		`video[class*="player"]`,
		`video[class*="xgplayer"]`,
		`.player video`,
	}

	inputSelectors = []string{
		`[contenteditable="true"][data-e2e="comment-input"]`,
		`[contenteditable="true"][data-e2e="chat-input"]`,
		`[contenteditable="true"][placeholder*="说点什么"]`,
		`[contenteditable="true"][placeholder*="发条评论"]`,
		`[contenteditable="true"][placeholder*="和大家聊点什么"]`,
		`[contenteditable="true"][placeholder*="评论"]`,
		`.comment-input [contenteditable="true"]`,
		`.chat-input [contenteditable="true"]`,
		`.room-right [contenteditable="true"]`,
		`[class*="comment"] [contenteditable="true"]`,
		`[class*="chat"] [contenteditable="true"]`,
		`textarea[data-e2e="comment-input"]`,
		`textarea[data-e2e="chat-input"]`,
		`textarea[placeholder*="说点什么"]`,
		`textarea[placeholder*="发条评论"]`,
		`.comment-input textarea`,
		`.chat-input textarea`,
		`#comment-input`,
		`#chat-input`,
	}

	// loginSelectors appear only for a signed-in viewer
	loginSelectors = []string{
		`[data-e2e="live-avatar"]`,
		`[data-e2e="user-info"]`,
		`#douyin-header [class*="avatar"]`,
	}
)

// Minimum sizes for a region to count as the real thing
const (
	minHeartSize  = 20
	minPlayerW    = 300
	minPlayerH    = 200
	minInputW     = 100
	minInputH     = 20
	maxContextLen = 1200
)
