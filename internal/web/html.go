package web

import "net/http"

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHistoryPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(historyHTML))
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>CrowdWatch</title>
<style>
  body { font-family: sans-serif; margin: 0; background: #111; color: #eee; }
  header { padding: 12px 20px; background: #1b1b1b; display: flex; justify-content: space-between; }
  main { display: flex; gap: 20px; padding: 20px; flex-wrap: wrap; }
  img#stream { max-width: 100%; border: 1px solid #333; }
  .panel { background: #1b1b1b; border-radius: 6px; padding: 16px; min-width: 260px; }
  .big { font-size: 2.4em; font-weight: bold; }
  .level-Low { color: #6c6; } .level-Medium { color: #cc6; }
  .level-High { color: #c96; } .level-VeryHigh { color: #c66; }
  button { padding: 8px 14px; border: 0; border-radius: 4px; cursor: pointer; }
</style>
</head>
<body>
<header>
  <strong>CrowdWatch</strong>
  <a href="/history" style="color:#9cf">history</a>
</header>
<main>
  <div><img id="stream" src="/stream" alt="live stream"></div>
  <div class="panel">
    <div>People now</div>
    <div class="big" id="count">-</div>
    <div id="level">-</div>
    <div>Wait: <span id="wait">-</span></div>
    <div>Density: <span id="density">-</span></div>
    <div>Rolling avg: <span id="avg">-</span></div>
    <p><button onclick="saveNow()">Save record</button> <span id="saveResult"></span></p>
  </div>
</main>
<script>
function apply(d) {
  document.getElementById('count').textContent = d.person_count;
  var lv = document.getElementById('level');
  lv.textContent = d.level + (d.stale ? ' (stale)' : '');
  lv.className = 'level-' + d.level;
  document.getElementById('wait').textContent = d.wait_range;
  document.getElementById('density').textContent = (d.density * 100).toFixed(0) + '%';
  document.getElementById('avg').textContent = d.rolling.avg.toFixed(1);
}
function connect() {
  var ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
  ws.onmessage = function(e) { apply(JSON.parse(e.data)); };
  ws.onclose = function() { setTimeout(connect, 2000); };
}
function saveNow() {
  fetch('/api/save', {method: 'POST'}).then(function(r) { return r.json(); }).then(function(d) {
    document.getElementById('saveResult').textContent = d.accepted ? 'saved' : ('rejected: ' + d.reason);
  });
}
connect();
</script>
</body>
</html>
`

const historyHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>CrowdWatch - History</title>
<style>
  body { font-family: sans-serif; margin: 0; background: #111; color: #eee; }
  header { padding: 12px 20px; background: #1b1b1b; }
  main { padding: 20px; }
  table { border-collapse: collapse; margin-top: 12px; }
  td, th { border: 1px solid #333; padding: 6px 12px; }
  select { padding: 6px; }
</style>
</head>
<body>
<header><strong>CrowdWatch</strong> <a href="/" style="color:#9cf">live</a></header>
<main>
  <label>Weekday:
    <select id="weekday" onchange="load()">
      <option value="0">Monday</option><option value="1">Tuesday</option>
      <option value="2">Wednesday</option><option value="3">Thursday</option>
      <option value="4">Friday</option><option value="5">Saturday</option>
      <option value="6">Sunday</option>
    </select>
  </label>
  <h3>Hourly averages</h3>
  <table id="hourly"><tr><th>Hour</th><th>Avg people</th></tr></table>
  <h3>Weekly flow</h3>
  <table id="weekly"><tr><th>Weekday</th><th>Avg</th><th>Min</th><th>Max</th><th>Samples</th></tr></table>
</main>
<script>
var names = ['Monday','Tuesday','Wednesday','Thursday','Friday','Saturday','Sunday'];
function load() {
  var wd = document.getElementById('weekday').value;
  fetch('/api/stats?weekday=' + wd).then(function(r) { return r.json(); }).then(function(d) {
    var t = document.getElementById('hourly');
    t.innerHTML = '<tr><th>Hour</th><th>Avg people</th></tr>';
    (d.hourly || []).forEach(function(h) {
      t.innerHTML += '<tr><td>' + h.hour + ':00</td><td>' + h.avg.toFixed(1) + '</td></tr>';
    });
    var w = document.getElementById('weekly');
    w.innerHTML = '<tr><th>Weekday</th><th>Avg</th><th>Min</th><th>Max</th><th>Samples</th></tr>';
    (d.weekly_flow || []).forEach(function(f) {
      w.innerHTML += '<tr><td>' + names[f.weekday] + '</td><td>' + f.avg.toFixed(1) +
        '</td><td>' + f.min + '</td><td>' + f.max + '</td><td>' + f.count + '</td></tr>';
    });
  });
}
load();
</script>
</body>
</html>
`
