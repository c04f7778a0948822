package oss

import (
	"context"
	"fmt"

	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss"
	"github.com/aliyun/alibabacloud-oss-go-sdk-v2/oss/credentials"
)

// Client offloads result archives to an OSS bucket. The local copy stays on
// disk either way; the bucket is for consumers without access to the share.
type Client struct {
	client *oss.Client
	bucket string
	region string
}

func NewClient(accessKeyId, accessKeySecret, region, bucket string) *Client {
	cfg := oss.LoadDefaultConfig().
		WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKeyId, accessKeySecret)).
		WithRegion(region)
	return &Client{
		client: oss.NewClient(cfg),
		bucket: bucket,
		region: region,
	}
}

// UploadFile puts localPath under key and returns the object's public URL.
func (c *Client) UploadFile(ctx context.Context, key, localPath string) (string, error) {
	_, err := c.client.PutObjectFromFile(ctx, &oss.PutObjectRequest{
		Bucket: oss.Ptr(c.bucket),
		Key:    oss.Ptr(key),
	}, localPath)
	if err != nil {
		return "", fmt.Errorf("upload %s to oss: %w", localPath, err)
	}
	return fmt.Sprintf("https://%s.oss-%s.aliyuncs.com/%s", c.bucket, c.region, key), nil
}
