package redfish

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/openstack/ironic-sub002/pkg/bmc"
	"github.com/openstack/ironic-sub002/pkg/raid"
)

const (
	sessionsPath     = "/redfish/v1/SessionService/Sessions"
	simpleUpdatePath = "/redfish/v1/UpdateService/Actions/UpdateService.SimpleUpdate"

	defaultTimeout = 60 * time.Second
)

// Options tune the Redfish client
type Options struct {
	RequestTimeout   time.Duration
	InsecureTLS      bool
	SessionCacheSize int
}

// Client implements bmc.Client over the Redfish HTTP protocol. It owns
// the bounded session cache; callers never see tokens or connections.
type Client struct {
	sessions  *bmc.SessionCache
	timeout   time.Duration
	transport http.RoundTripper
	logger    *log.Entry
}

// NewClient creates a Redfish client
func NewClient(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}
	var transport http.RoundTripper
	if opts.InsecureTLS {
		transport = &http.Transport{TLSClientConfig: &tls.Config{InsecureSkipVerify: true}}
	}
	return &Client{
		sessions:  bmc.NewSessionCache(opts.SessionCacheSize),
		timeout:   opts.RequestTimeout,
		transport: transport,
		logger:    log.WithField("Module", "RedfishClient"),
	}
}

var raidTypes = map[raid.Level]string{
	raid.Level0:  "RAID0",
	raid.Level1:  "RAID1",
	raid.Level5:  "RAID5",
	raid.Level6:  "RAID6",
	raid.Level10: "RAID10",
	raid.Level50: "RAID50",
	raid.Level60: "RAID60",
	// a JBOD volume is exposed as a single-disk stripe
	raid.LevelJBOD: "RAID0",
}

var raidLevels = map[string]raid.Level{
	"RAID0":  raid.Level0,
	"RAID1":  raid.Level1,
	"RAID5":  raid.Level5,
	"RAID6":  raid.Level6,
	"RAID10": raid.Level10,
	"RAID50": raid.Level50,
	"RAID60": raid.Level60,
}

// SystemInventory implements bmc.Client
func (c *Client) SystemInventory(ctx context.Context, addr bmc.Address) (*bmc.Inventory, error) {
	inv := &bmc.Inventory{}
	controllers, err := c.storageControllers(ctx, addr)
	if err != nil {
		return nil, err
	}
	for _, ctrlPath := range controllers {
		body, err := c.getJSON(ctx, addr, ctrlPath)
		if err != nil {
			return nil, err
		}
		ctrlID := gjson.GetBytes(body, "Id").String()
		inv.Controllers = append(inv.Controllers, ctrlID)
		for _, drive := range gjson.GetBytes(body, "Drives.#.@odata\\.id").Array() {
			driveBody, err := c.getJSON(ctx, addr, drive.String())
			if err != nil {
				return nil, err
			}
			inv.Disks = append(inv.Disks, raid.PhysicalDisk{
				ID:         drive.String(),
				Controller: ctrlID,
				SizeBytes:  gjson.GetBytes(driveBody, "CapacityBytes").Int(),
				Type:       raid.DiskType(strings.ToLower(gjson.GetBytes(driveBody, "MediaType").String())),
				Protocol:   raid.Protocol(strings.ToLower(gjson.GetBytes(driveBody, "Protocol").String())),
			})
		}
	}
	return inv, nil
}

// ListVolumes implements bmc.Client
func (c *Client) ListVolumes(ctx context.Context, addr bmc.Address) ([]bmc.Volume, error) {
	var volumes []bmc.Volume
	controllers, err := c.storageControllers(ctx, addr)
	if err != nil {
		return nil, err
	}
	for _, ctrlPath := range controllers {
		collection, err := c.getJSON(ctx, addr, ctrlPath+"/Volumes")
		if err != nil {
			return nil, err
		}
		for _, member := range gjson.GetBytes(collection, "Members.#.@odata\\.id").Array() {
			body, err := c.getJSON(ctx, addr, member.String())
			if err != nil {
				return nil, err
			}
			volumes = append(volumes, bmc.Volume{
				ID:         member.String(),
				Name:       gjson.GetBytes(body, "Name").String(),
				Controller: path.Base(ctrlPath),
				Level:      raidLevels[gjson.GetBytes(body, "RAIDType").String()],
				SizeBytes:  gjson.GetBytes(body, "CapacityBytes").Int(),
			})
		}
	}
	return volumes, nil
}

// CreateVolume implements bmc.Client
func (c *Client) CreateVolume(ctx context.Context, addr bmc.Address, spec bmc.VolumeSpec) (*bmc.SubmitResult, error) {
	drives := make([]map[string]string, 0, len(spec.PhysicalDisks))
	for _, id := range spec.PhysicalDisks {
		drives = append(drives, map[string]string{"@odata.id": id})
	}
	payload := map[string]interface{}{
		"Name":          spec.Name,
		"RAIDType":      raidTypes[spec.Level],
		"CapacityBytes": spec.SizeBytes,
		"Links":         map[string]interface{}{"Drives": drives},
	}
	if spec.SpanDepth > 0 {
		// controllers honoring span hints read them from the OEM block
		payload["Oem"] = map[string]interface{}{
			"SpanDepth":  spec.SpanDepth,
			"SpanLength": spec.SpanLength,
		}
	}
	p := fmt.Sprintf("/redfish/v1/Systems/%s/Storage/%s/Volumes", addr.SystemID, spec.Controller)
	return c.submit(ctx, addr, http.MethodPost, p, payload, "create volume")
}

// DeleteVolume implements bmc.Client
func (c *Client) DeleteVolume(ctx context.Context, addr bmc.Address, volumeID string) (*bmc.SubmitResult, error) {
	return c.submit(ctx, addr, http.MethodDelete, volumeID, nil, "delete volume")
}

// UpdateFirmware implements bmc.Client
func (c *Client) UpdateFirmware(ctx context.Context, addr bmc.Address, image bmc.FirmwareImage) (*bmc.SubmitResult, error) {
	payload := map[string]interface{}{"ImageURI": image.URL}
	if image.Checksum != "" {
		payload["Oem"] = map[string]interface{}{"Checksum": image.Checksum}
	}
	return c.submit(ctx, addr, http.MethodPost, simpleUpdatePath, payload, "update firmware")
}

// ApplyBIOSSettings implements bmc.Client
func (c *Client) ApplyBIOSSettings(ctx context.Context, addr bmc.Address, settings map[string]string) (*bmc.SubmitResult, error) {
	p := fmt.Sprintf("/redfish/v1/Systems/%s/Bios/Settings", addr.SystemID)
	payload := map[string]interface{}{"Attributes": settings}
	return c.submit(ctx, addr, http.MethodPatch, p, payload, "apply bios settings")
}

// GetTask implements bmc.Client
func (c *Client) GetTask(ctx context.Context, addr bmc.Address, monitor string) (*bmc.Task, error) {
	status, body, _, err := c.do(ctx, addr, http.MethodGet, monitor, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, bmc.ErrTaskNotFound
	case status == http.StatusAccepted:
		return &bmc.Task{IsProcessing: true}, nil
	case status >= 200 && status < 300:
		task := &bmc.Task{}
		state := gjson.GetBytes(body, "TaskState").String()
		taskStatus := gjson.GetBytes(body, "TaskStatus").String()
		for _, m := range gjson.GetBytes(body, "Messages.#.Message").Array() {
			task.Messages = append(task.Messages, m.String())
		}
		switch state {
		case "Running", "Pending", "New", "Starting":
			task.IsProcessing = true
		case "Completed":
			task.Succeeded = taskStatus == "" || taskStatus == "OK"
		default:
			// Exception, Killed, Cancelled and friends
			task.Succeeded = false
		}
		return task, nil
	}
	return nil, &bmc.OperationError{Op: "get task", Detail: fmt.Sprintf("status %d: %s", status, body)}
}

// submit issues a mutating call and maps the response onto a
// SubmitResult: 202 plus a Location header is an asynchronous task
// monitor, any other 2xx completed synchronously.
func (c *Client) submit(ctx context.Context, addr bmc.Address, method, p string, payload interface{}, op string) (*bmc.SubmitResult, error) {
	status, body, header, err := c.do(ctx, addr, method, p, payload)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		monitor := header.Get("Location")
		if monitor == "" {
			return nil, &bmc.OperationError{Op: op, Detail: "202 response without a task monitor"}
		}
		return &bmc.SubmitResult{TaskMonitor: monitor}, nil
	}
	if status >= 200 && status < 300 {
		return &bmc.SubmitResult{}, nil
	}
	return nil, &bmc.OperationError{Op: op, Detail: fmt.Sprintf("status %d: %s", status, body)}
}

func (c *Client) storageControllers(ctx context.Context, addr bmc.Address) ([]string, error) {
	body, err := c.getJSON(ctx, addr, fmt.Sprintf("/redfish/v1/Systems/%s/Storage", addr.SystemID))
	if err != nil {
		return nil, err
	}
	var controllers []string
	for _, member := range gjson.GetBytes(body, "Members.#.@odata\\.id").Array() {
		controllers = append(controllers, member.String())
	}
	return controllers, nil
}

func (c *Client) getJSON(ctx context.Context, addr bmc.Address, p string) ([]byte, error) {
	status, body, _, err := c.do(ctx, addr, http.MethodGet, p, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &bmc.OperationError{Op: "get " + p, Detail: fmt.Sprintf("status %d", status)}
	}
	return body, nil
}

// do runs one authenticated request. Network trouble and expired
// sessions come back as *bmc.TransientError after evicting the cached
// session, so the next call re-authenticates.
func (c *Client) do(ctx context.Context, addr bmc.Address, method, p string, payload interface{}) (int, []byte, http.Header, error) {
	key := bmc.CacheKey(addr)
	sess, err := c.session(ctx, addr, key)
	if err != nil {
		return 0, nil, nil, err
	}

	var reqBody io.Reader
	var rawPayload []byte
	if payload != nil {
		rawPayload, err = json.Marshal(payload)
		if err != nil {
			return 0, nil, nil, err
		}
		reqBody = bytes.NewReader(rawPayload)
	}

	req, err := http.NewRequestWithContext(ctx, method, addr.Endpoint+p, reqBody)
	if err != nil {
		return 0, nil, nil, err
	}
	req.Header.Set("X-Auth-Token", sess.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	requestID := uuid.New().String()
	c.logger.WithFields(log.Fields{
		"request": requestID, "method": method, "path": p, "payload": string(rawPayload),
	}).Debug("Sending a request to the controller")

	resp, err := sess.HTTP.Do(req)
	if err != nil {
		c.sessions.Evict(key)
		return 0, nil, nil, &bmc.TransientError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.sessions.Evict(key)
		return 0, nil, nil, &bmc.TransientError{Err: err}
	}
	if resp.StatusCode == http.StatusUnauthorized {
		c.sessions.Evict(key)
		return 0, nil, nil, &bmc.TransientError{Err: fmt.Errorf("session expired")}
	}
	return resp.StatusCode, body, resp.Header, nil
}

func (c *Client) session(ctx context.Context, addr bmc.Address, key string) (*bmc.Session, error) {
	if sess, ok := c.sessions.Get(key); ok {
		return sess, nil
	}

	httpClient := &http.Client{Timeout: c.timeout, Transport: c.transport}
	payload, _ := json.Marshal(map[string]string{
		"UserName": addr.Username,
		"Password": addr.Password,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, addr.Endpoint+sessionsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &bmc.TransientError{Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &bmc.TransientError{Err: fmt.Errorf("session creation failed with status %d", resp.StatusCode)}
	}

	sess := &bmc.Session{
		Token:     resp.Header.Get("X-Auth-Token"),
		Location:  resp.Header.Get("Location"),
		HTTP:      httpClient,
		CreatedAt: time.Now(),
	}
	c.sessions.Put(key, sess)
	return sess, nil
}
