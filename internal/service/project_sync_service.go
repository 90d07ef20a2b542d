package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/rtheme/internal/db"
	"gorm.io/gorm"
)

const defaultCodeHostAPI = "https://api.github.com"

// ProjectSyncResult 是单个项目的同步结果，失败作为数据返回而非异常。
type ProjectSyncResult struct {
	ProjectID uint
	RepoPath  string
	Success   bool
	Error     string
}

// ProjectSyncSummary 汇总一轮项目同步。
type ProjectSyncSummary struct {
	Synced  int
	Failed  int
	Results []ProjectSyncResult
}

// ProjectSyncService 从代码托管平台拉取项目元数据（Star/Fork/协议/语言），
// 并按项目配置可选地同步 README 内容。
type ProjectSyncService struct {
	db      *gorm.DB
	http    httpDoer
	apiBase string
}

// NewProjectSyncService 构造 ProjectSyncService。
func NewProjectSyncService(gdb *gorm.DB) *ProjectSyncService {
	return &ProjectSyncService{
		db:      gdb,
		http:    &http.Client{Timeout: 15 * time.Second},
		apiBase: defaultCodeHostAPI,
	}
}

// SetHTTPClient 替换 HTTP 客户端，主要面向测试场景。
func (s *ProjectSyncService) SetHTTPClient(client httpDoer) {
	if client == nil {
		s.http = &http.Client{Timeout: 15 * time.Second}
		return
	}
	s.http = client
}

// SetAPIBase 覆盖托管平台 API 地址，便于测试或私有部署。
func (s *ProjectSyncService) SetAPIBase(base string) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed != "" {
		s.apiBase = trimmed
	}
}

// Run 同步所有启用了同步且配置了仓库路径的项目。
// 每个项目独立拉取，互不影响；结果按项目 ID 关联，与完成顺序无关。
func (s *ProjectSyncService) Run(ctx context.Context) (ProjectSyncSummary, error) {
	var projects []db.Project
	if err := s.db.Where("sync_enabled = ?", true).Find(&projects).Error; err != nil {
		return ProjectSyncSummary{}, err
	}

	results := make(chan ProjectSyncResult, len(projects))
	var wg sync.WaitGroup
	for i := range projects {
		wg.Add(1)
		go func(project db.Project) {
			defer wg.Done()
			results <- s.syncProject(ctx, project)
		}(projects[i])
	}
	wg.Wait()
	close(results)

	summary := ProjectSyncSummary{Results: make([]ProjectSyncResult, 0, len(projects))}
	for result := range results {
		summary.Results = append(summary.Results, result)
		if result.Success {
			summary.Synced++
		} else {
			summary.Failed++
		}
	}

	log.Info().Int("synced", summary.Synced).Int("failed", summary.Failed).Msg("project sync completed")
	return summary, nil
}

func (s *ProjectSyncService) syncProject(ctx context.Context, project db.Project) ProjectSyncResult {
	result := ProjectSyncResult{ProjectID: project.ID, RepoPath: project.RepoPath}

	repoPath, ok := normalizeRepoPath(project.RepoPath)
	if !ok {
		result.Error = fmt.Sprintf("invalid repo path %q", project.RepoPath)
		return result
	}

	type repoMetadata struct {
		StargazersCount int64 `json:"stargazers_count"`
		ForksCount      int64 `json:"forks_count"`
		License         *struct {
			SpdxID string `json:"spdx_id"`
		} `json:"license"`
	}

	var metadata repoMetadata
	if err := s.getJSON(ctx, fmt.Sprintf("%s/repos/%s", s.apiBase, repoPath), &metadata); err != nil {
		result.Error = err.Error()
		return result
	}

	var languages map[string]int64
	if err := s.getJSON(ctx, fmt.Sprintf("%s/repos/%s/languages", s.apiBase, repoPath), &languages); err != nil {
		result.Error = err.Error()
		return result
	}

	now := time.Now()
	updates := db.Project{
		Stars:        metadata.StargazersCount,
		Forks:        metadata.ForksCount,
		Languages:    languages,
		LastSyncedAt: &now,
	}
	columns := []string{"stars", "forks", "languages", "last_synced_at"}
	if metadata.License != nil {
		updates.License = metadata.License.SpdxID
		columns = append(columns, "license")
	}

	if project.ContentSyncEnabled {
		readme, err := s.getRaw(ctx, fmt.Sprintf("%s/repos/%s/readme", s.apiBase, repoPath))
		if err != nil {
			result.Error = err.Error()
			return result
		}
		updates.Readme = readme
		columns = append(columns, "readme")
	}

	if err := s.db.Model(&db.Project{}).Where("id = ?", project.ID).
		Select(columns).Updates(updates).Error; err != nil {
		result.Error = err.Error()
		return result
	}

	result.Success = true
	return result
}

func (s *ProjectSyncService) getJSON(ctx context.Context, url string, dst interface{}) error {
	body, err := s.fetch(ctx, url, "application/vnd.github+json")
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dst)
}

func (s *ProjectSyncService) getRaw(ctx context.Context, url string) (string, error) {
	body, err := s.fetch(ctx, url, "application/vnd.github.raw")
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (s *ProjectSyncService) fetch(ctx context.Context, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", accept)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: HTTP %d", url, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2<<20))
}

// normalizeRepoPath 校验并整理 owner/name 形式的仓库路径。
func normalizeRepoPath(raw string) (string, bool) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", false
	}
	return parts[0] + "/" + parts[1], true
}
