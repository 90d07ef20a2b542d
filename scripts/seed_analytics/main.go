package main

import (
	"flag"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/rtheme/internal/db"
)

// 访问数据生成器：为本地联调生成近 N 天的访问记录与示例友链、项目。
func main() {
	var dbPath string
	var days int
	var perDay int
	flag.StringVar(&dbPath, "db", "rtheme.db", "sqlite db path")
	flag.IntVar(&days, "days", 14, "number of days to backfill")
	flag.IntVar(&perDay, "per-day", 40, "page views per day")
	flag.Parse()

	if err := db.Init(dbPath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	fmt.Println("开始生成测试数据...")

	created, err := seedPageViews(days, perDay)
	if err != nil {
		log.Fatal("生成访问记录失败:", err)
	}
	fmt.Printf("✅ 访问记录 %d 条\n", created)

	links, err := seedFriendLinks()
	if err != nil {
		log.Fatal("生成友链失败:", err)
	}
	fmt.Printf("✅ 友链 %d 条\n", links)

	projects, err := seedProjects()
	if err != nil {
		log.Fatal("生成项目失败:", err)
	}
	fmt.Printf("✅ 项目 %d 个\n", projects)

	fmt.Println("测试数据生成完成！")
}

var seedPaths = []string{
	"/", "/posts/hello-world", "/posts/go-concurrency",
	"/posts/sqlite-tips", "/about", "/friends", "/projects",
}

var seedReferers = []string{
	"", "", "https://www.google.com/search?q=rtheme",
	"https://news.ycombinator.com/item?id=1", "https://github.com/ravelloh",
}

// seedPageViews 在最近 days 天内均匀铺设访问记录，
// 访客指纹按天复用，保证独立访客数有意义。
func seedPageViews(days, perDay int) (int, error) {
	var count int64
	db.DB.Model(&db.PageView{}).Count(&count)
	if count > 0 {
		fmt.Println("访问记录已存在，跳过创建")
		return 0, nil
	}

	rng := rand.New(rand.NewSource(42))
	now := time.Now().UTC()
	rows := make([]db.PageView, 0, days*perDay)

	for day := 0; day < days; day++ {
		base := now.AddDate(0, 0, -day)
		for i := 0; i < perDay; i++ {
			row := db.PageView{
				Timestamp: base.Add(-time.Duration(rng.Intn(86400)) * time.Second),
				Path:      seedPaths[rng.Intn(len(seedPaths))],
				VisitorID: fmt.Sprintf("seed-visitor-%d-%d", day, rng.Intn(perDay/4+1)),
			}
			if referer := seedReferers[rng.Intn(len(seedReferers))]; referer != "" {
				row.Referer = &referer
			}
			rows = append(rows, row)
		}
	}

	if err := db.DB.CreateInBatches(rows, 200).Error; err != nil {
		return 0, err
	}
	return len(rows), nil
}

func seedFriendLinks() (int, error) {
	var count int64
	db.DB.Model(&db.FriendLink{}).Count(&count)
	if count > 0 {
		fmt.Println("友链已存在，跳过创建")
		return 0, nil
	}

	links := []db.FriendLink{
		{Name: "Example Blog", URL: "https://blog.example.com", Status: db.LinkStatusPublished},
		{Name: "Another Site", URL: "https://another.example.org", Status: db.LinkStatusPublished},
		{Name: "Pending Friend", URL: "https://pending.example.net", Status: db.LinkStatusPending},
		{Name: "Trusted Partner", URL: "https://trusted.example.io", Status: db.LinkStatusTrusted, IgnoreBacklink: true},
	}
	if err := db.DB.Create(&links).Error; err != nil {
		return 0, err
	}
	return len(links), nil
}

func seedProjects() (int, error) {
	var count int64
	db.DB.Model(&db.Project{}).Count(&count)
	if count > 0 {
		fmt.Println("项目已存在，跳过创建")
		return 0, nil
	}

	projects := []db.Project{
		{Name: "RTheme", RepoPath: "ravelloh/rtheme", SyncEnabled: true, ContentSyncEnabled: true},
		{Name: "RPageSearch", RepoPath: "ravelloh/rpagesearch", SyncEnabled: true},
		{Name: "Playground", RepoPath: "", SyncEnabled: false},
	}
	if err := db.DB.Create(&projects).Error; err != nil {
		return 0, err
	}
	return len(projects), nil
}
