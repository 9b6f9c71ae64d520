package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"antigravity-biosync/internal/config"
	"antigravity-biosync/internal/zk"
)

// 设备诊断工具：连上指纹机，打印固件信息、存储用量、时钟偏差，
// 可选导出用户表和打卡日志。日常排障用，不参与同步。
func main() {
	var host = flag.String("host", "", "Device IP (default: DEVICE_HOST env)")
	var port = flag.Int("port", 0, "Device port (default: DEVICE_PORT env or 4370)")
	var commKey = flag.Int("commkey", -1, "Device comm key (default: DEVICE_COMM_KEY env)")
	var showUsers = flag.Bool("users", false, "Dump registered users")
	var showLogs = flag.Bool("logs", false, "Dump attendance logs")
	var setTime = flag.Bool("settime", false, "Set device clock to local time")
	var clearLogs = flag.Bool("clear", false, "Clear attendance logs on the device (requires -yes)")
	var restart = flag.Bool("restart", false, "Restart the device (requires -yes)")
	var yes = flag.Bool("yes", false, "Confirm destructive operations")
	flag.Parse()

	cfg := config.Load()
	if *host != "" {
		cfg.Device.Host = *host
	}
	if *port != 0 {
		cfg.Device.Port = *port
	}
	if *commKey >= 0 {
		cfg.Device.CommKey = *commKey
	}

	transport := zk.NewTransport(cfg.Device, zap.NewNop())
	session, err := transport.Connect()
	if err != nil {
		log.Fatalf("Cannot connect to device %s:%d: %v", cfg.Device.Host, cfg.Device.Port, err)
	}
	defer session.Close()

	fmt.Printf("Connected to device: %s:%d\n\n", cfg.Device.Host, cfg.Device.Port)

	info, err := session.GetDeviceInfo()
	if err != nil {
		log.Printf("Cannot read device info: %v", err)
	} else {
		fmt.Println("Device Info:")
		fmt.Printf("  Firmware:      %s\n", info.Firmware)
		fmt.Printf("  Serial Number: %s\n", info.SerialNumber)
		fmt.Printf("  Device Name:   %s\n", info.DeviceName)
		fmt.Printf("  Platform:      %s\n", info.Platform)
		fmt.Println()
	}

	sizes, err := session.GetFreeSizes()
	if err != nil {
		log.Printf("Cannot read storage usage: %v", err)
	} else {
		fmt.Println("Storage:")
		fmt.Printf("  Users:   %d / %d\n", sizes.Users, sizes.UsersCapacity)
		fmt.Printf("  Records: %d / %d\n", sizes.Records, sizes.RecordsCapacity)
		fmt.Println()
	}

	deviceTime, err := session.GetTime()
	if err != nil {
		log.Printf("Cannot read device clock: %v", err)
	} else {
		now := time.Now()
		// 设备时钟是墙上时间，和本机墙上时间直接比偏差
		local := time.Date(now.Year(), now.Month(), now.Day(),
			now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
		drift := local.Sub(deviceTime)
		fmt.Printf("Device Clock: %s (drift vs local wall clock: %s)\n\n",
			deviceTime.Format("2006-01-02 15:04:05"), drift)
	}

	if *setTime {
		now := time.Now()
		wall := time.Date(now.Year(), now.Month(), now.Day(),
			now.Hour(), now.Minute(), now.Second(), 0, time.UTC)
		if err := session.SetTime(wall); err != nil {
			log.Fatalf("Cannot set device clock: %v", err)
		}
		fmt.Printf("Device clock set to %s\n\n", wall.Format("2006-01-02 15:04:05"))
	}

	if *showUsers {
		users, err := session.ReadUsers()
		if err != nil {
			log.Fatalf("Cannot read users: %v", err)
		}
		fmt.Printf("Registered Users (%d):\n", len(users))
		fmt.Println("UID | User ID | Name | Privilege | Card")
		fmt.Println("----|---------|------|-----------|-----")
		for _, u := range users {
			fmt.Printf("%d | %s | %s | %d | %d\n", u.UID, u.UserID, u.Name, u.Privilege, u.Card)
		}
		fmt.Println()
	}

	if *showLogs {
		logs, err := session.ReadAttendanceLogs()
		if err != nil {
			log.Fatalf("Cannot read attendance logs: %v", err)
		}
		fmt.Printf("Attendance Logs (%d):\n", len(logs))
		fmt.Println("Seq | User ID | Timestamp | Verify | State")
		fmt.Println("----|---------|-----------|--------|------")
		for _, rec := range logs {
			fmt.Printf("%d | %s | %s | %d | %d\n",
				rec.RawRecordID, rec.DeviceUserID,
				rec.Timestamp.Format("2006-01-02 15:04:05"),
				rec.VerifyType, rec.PunchState)
		}
		fmt.Println()
	}

	if *clearLogs {
		if !*yes {
			log.Fatal("Refusing to clear attendance logs without -yes")
		}
		if err := session.ClearAttendanceLogs(); err != nil {
			log.Fatalf("Cannot clear attendance logs: %v", err)
		}
		fmt.Println("Attendance logs cleared")
	}

	if *restart {
		if !*yes {
			log.Fatal("Refusing to restart device without -yes")
		}
		if err := session.Restart(); err != nil {
			log.Fatalf("Cannot restart device: %v", err)
		}
		fmt.Println("Device restarting")
	}
}
