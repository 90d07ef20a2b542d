package service

import (
	"errors"
	"strings"

	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
)

// ErrEmptyNotice 在通知缺少标题或正文时返回。
var ErrEmptyNotice = errors.New("notice requires title and content")

// NoticeService 负责站内通知的写入与查询。
type NoticeService struct {
	db *gorm.DB
}

// NewNoticeService 构造 NoticeService。
func NewNoticeService(gdb *gorm.DB) *NoticeService {
	return &NoticeService{db: gdb}
}

// Send 给指定用户写入一条站内通知。
func (s *NoticeService) Send(userID uint, title, content, link string) error {
	title = strings.TrimSpace(title)
	if userID == 0 || title == "" || strings.TrimSpace(content) == "" {
		return ErrEmptyNotice
	}

	notice := db.Notice{
		UserID:  userID,
		Title:   title,
		Content: content,
		Link:    strings.TrimSpace(link),
	}
	return s.db.Create(&notice).Error
}

// ListUnread 返回用户未读通知，按时间倒序。
func (s *NoticeService) ListUnread(userID uint) ([]db.Notice, error) {
	var notices []db.Notice
	if err := s.db.Where("user_id = ? AND read = ?", userID, false).
		Order("created_at DESC").
		Find(&notices).Error; err != nil {
		return nil, err
	}
	return notices, nil
}

// MarkRead 把一条通知标记为已读。
func (s *NoticeService) MarkRead(userID, noticeID uint) error {
	return s.db.Model(&db.Notice{}).
		Where("id = ? AND user_id = ?", noticeID, userID).
		Update("read", true).Error
}
