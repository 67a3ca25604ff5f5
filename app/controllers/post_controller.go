package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/chloecircle/chloecircle/app/models"
	"github.com/chloecircle/chloecircle/app/repository"
	"github.com/chloecircle/chloecircle/internal/pkg/usercontext"
)

const (
	postsDefaultLimit = 20
	postsMaxLimit     = 100
)

// ViewCounter records post reads.
type ViewCounter interface {
	AddPostView(ctx context.Context, postID uint) error
}

// PostView is a post as shown to a reader. Locked posts carry no body.
type PostView struct {
	models.Post
	Locked bool `json:"locked"`
}

// PostController serves the content feed with premium gating
type PostController struct {
	posts   repository.PostRepository
	counter ViewCounter
}

// NewPostController creates a post controller. counter may be nil.
func NewPostController(repos *repository.Repositories, counter ViewCounter) *PostController {
	return &PostController{
		posts:   repos.Post,
		counter: counter,
	}
}

// HandleList returns a page of posts; premium bodies are hidden from free readers.
func (pc *PostController) HandleList(c *fiber.Ctx) error {
	tier := usercontext.GetUserContext(c).Tier
	page, limit := pagination(c, postsDefaultLimit, postsMaxLimit)

	posts, err := pc.posts.List((page-1)*limit, limit)
	if err != nil {
		log.Errorf("[Posts] Failed to list posts: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load posts")
	}
	total, err := pc.posts.Count()
	if err != nil {
		log.Errorf("[Posts] Failed to count posts: %v", err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load posts")
	}

	items := make([]PostView, 0, len(posts))
	for i := range posts {
		v := PostView{Post: posts[i]}
		if !tier.CanRead(&posts[i]) {
			v.Body = ""
			v.Locked = true
		}
		items = append(items, v)
	}
	return c.JSON(fiber.Map{"items": items, "total": total, "page": page, "limit": limit})
}

// HandleShow returns one post and counts the view.
func (pc *PostController) HandleShow(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return errorResponse(c, fiber.StatusBadRequest, "invalid_request", "invalid post id")
	}

	post, err := pc.posts.GetByID(uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errorResponse(c, fiber.StatusNotFound, "not_found", "Post not found")
		}
		log.Errorf("[Posts] Failed to load post %d: %v", id, err)
		return errorResponse(c, fiber.StatusInternalServerError, "internal_server_error", "Failed to load post")
	}

	if !usercontext.GetUserContext(c).Tier.CanRead(post) {
		return errorResponse(c, fiber.StatusForbidden, "premium_required", "An active subscription is required")
	}

	if pc.counter != nil {
		if err := pc.counter.AddPostView(c.UserContext(), post.ID); err != nil {
			log.Warnf("[Posts] Failed to count view of post %d: %v", post.ID, err)
		}
	}
	return c.JSON(PostView{Post: *post})
}
