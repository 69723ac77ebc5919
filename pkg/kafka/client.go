// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"resume-chat-go/internal/config"
	"resume-chat-go/pkg/log"
	"resume-chat-go/pkg/tasks"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

// TaskProcessor 处理简历索引任务；GiveUp 在任务多次失败、不再重试时调用。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.ResumeIndexTask) error
	GiveUp(ctx context.Context, task tasks.ResumeIndexTask, err error)
}

var producer *kafka.Writer

// InitProducer 初始化 Kafka 生产者。
func InitProducer(cfg config.KafkaConfig) {
	producer = &kafka.Writer{
		Addr:                   kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
}

// CloseProducer 刷新并关闭生产者。
func CloseProducer() {
	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Errorf("关闭 Kafka 生产者失败: %v", err)
		}
	}
}

// Publisher 把任务写入 Kafka，供上传服务依赖。
type Publisher struct{}

// PublishResumeTask 发送一个简历索引任务。以会话 ID 作为消息键，同一会话的任务落在同一分区、按序处理。
func (Publisher) PublishResumeTask(ctx context.Context, task tasks.ResumeIndexTask) error {
	if producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return producer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(task.SessionID),
		Value: taskBytes,
	})
}

// StartConsumer 启动消费循环，直到 ctx 被取消。失败的任务通过 Redis 计数，达到上限后提交 offset 放弃重试。
func StartConsumer(ctx context.Context, cfg config.KafkaConfig, processor TaskProcessor, rdb *redis.Client) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(cfg.Brokers, ","),
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	maxAttempts := int64(cfg.MaxAttempts)
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", cfg.Topic)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("Kafka 消费者已停止")
				return
			}
			log.Error("从 Kafka 读取消息失败", err)
			select {
			case <-time.After(time.Second):
				continue
			case <-ctx.Done():
				return
			}
		}

		var task tasks.ResumeIndexTask
		if err := json.Unmarshal(m.Value, &task); err != nil {
			log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
			// 消息格式错误，直接提交，避免阻塞队列
			commit(ctx, r, m)
			continue
		}

		log.Infof("开始处理简历任务: session=%s, MD5=%s, offset=%d", task.SessionID, task.FileMD5, m.Offset)
		if !handle(ctx, processor, rdb, task, maxAttempts) {
			// ctx 已取消，不提交 offset，重启后重新投递
			return
		}
		commit(ctx, r, m)
	}
}

// handle 处理一个任务并在失败时退避重试。失败次数记录在 Redis 中，进程重启后仍然累计。
// 返回 false 表示 ctx 被取消、任务未完成。
func handle(ctx context.Context, processor TaskProcessor, rdb *redis.Client, task tasks.ResumeIndexTask, maxAttempts int64) bool {
	backoff := time.Second
	var local int64
	for {
		err := processor.Process(ctx, task)
		if err == nil {
			log.Infof("简历任务处理成功: session=%s, MD5=%s", task.SessionID, task.FileMD5)
			_ = rdb.Del(ctx, task.AttemptKey()).Err()
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		log.Errorf("处理简历任务失败: session=%s, MD5=%s, error: %v", task.SessionID, task.FileMD5, err)
		local++
		attempts, incErr := rdb.Incr(ctx, task.AttemptKey()).Result()
		if incErr != nil {
			// Redis 不可用时退回到本进程内的计数
			log.Warnf("记录任务失败次数失败: %v", incErr)
			attempts = local
		} else {
			_ = rdb.Expire(ctx, task.AttemptKey(), 24*time.Hour).Err()
		}
		if attempts >= maxAttempts {
			log.Errorf("简历任务多次失败(>=%d)，终止重试: session=%s, MD5=%s", maxAttempts, task.SessionID, task.FileMD5)
			processor.GiveUp(ctx, task, err)
			_ = rdb.Del(ctx, task.AttemptKey()).Err()
			return true
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return false
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func commit(ctx context.Context, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}
