package backend

// Post is a single feed entry as returned by the backend.
type Post struct {
	Magnet  string `json:"magnet"`
	Content string `json:"content"`
}

// FeedPage is one page of the post feed. An empty NextCursor means the feed
// has no further pages.
type FeedPage struct {
	Items      []Post
	NextCursor string
}

// Estimate is the staged, not yet published, form of a post.
type Estimate struct {
	Magnet string `json:"magnet"`
	Size   int64  `json:"size"`
	Cost   int64  `json:"cost"`
}

// PublishResult reports the backend's acknowledgement of a publication.
type PublishResult struct {
	Status string `json:"status"`
}

// Identity is returned when a private key is accepted by the backend.
type Identity struct {
	Identity string `json:"identity"`
}

type postsResponse struct {
	Result     *[]Post `json:"result"`
	NextCursor *string `json:"next_cursor"`
}

type createPostRequest struct {
	Text string `json:"text"`
}

type publishRequest struct {
	Magnet     string `json:"magnet"`
	PrivateKey string `json:"privateKey"`
}

type authenticateRequest struct {
	PrivateKey string `json:"private_key"`
}
