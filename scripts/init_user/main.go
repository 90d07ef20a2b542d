package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/rtheme/internal/db"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	var dbPath string
	var username string
	var password string
	flag.StringVar(&dbPath, "db", "rtheme.db", "sqlite db path")
	flag.StringVar(&username, "username", "admin", "admin username")
	flag.StringVar(&password, "password", "admin123", "admin password")
	flag.Parse()

	if err := db.Init(dbPath); err != nil {
		log.Fatal("数据库初始化失败:", err)
	}

	// 检查是否已存在用户
	var count int64
	db.DB.Model(&db.User{}).Count(&count)
	if count > 0 {
		fmt.Println("用户已存在，无需初始化")
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatal("密码加密失败:", err)
	}

	user := db.User{
		Username: username,
		Password: string(hashedPassword),
		Role:     db.RoleAdmin,
	}

	if err := db.DB.Create(&user).Error; err != nil {
		log.Fatal("创建用户失败:", err)
	}

	fmt.Println("默认管理员用户创建成功")
	fmt.Println("用户名:", username)
	fmt.Println("密码:", password)
}
